// Package terminal prints a compiled timeline feed for the show command.
package terminal

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

const timestampLayout = "Mon Jan 2 15:04:05 2006"

// TextExtractor turns comment HTML into plain text.
type TextExtractor interface {
	Text(rawHTML string) string
}

// Renderer writes render instructions as coloured text.
type Renderer struct {
	out  io.Writer
	text TextExtractor

	eventID  *color.Color
	author   *color.Color
	logEntry *color.Color
	gap      *color.Color
	warning  *color.Color
	failure  *color.Color
}

// NewRenderer builds a Renderer writing to out.
func NewRenderer(out io.Writer, text TextExtractor) *Renderer {
	return &Renderer{
		out:      out,
		text:     text,
		eventID:  color.New(color.FgYellow),
		author:   color.New(color.FgCyan),
		logEntry: color.New(color.FgMagenta),
		gap:      color.New(color.FgBlue, color.Faint),
		warning:  color.New(color.FgYellow, color.Bold),
		failure:  color.New(color.FgRed, color.Bold),
	}
}

// RenderState prints the banners of a state followed by its feed.
func (r *Renderer) RenderState(state timeline.State, feed []timeline.Instruction) error {
	if state.Error != "" {
		if _, err := r.failure.Fprintf(r.out, "error: %s\n", state.Error); err != nil {
			return err
		}
	}
	if state.Warning != "" {
		if _, err := r.warning.Fprintf(r.out, "warning: %s\n", state.Warning); err != nil {
			return err
		}
	}
	if len(feed) == 0 {
		_, err := fmt.Fprintln(r.out, "No events yet")
		return err
	}
	return r.Render(feed)
}

// Render prints every instruction in order.
func (r *Renderer) Render(feed []timeline.Instruction) error {
	for _, instruction := range feed {
		var err error
		switch item := instruction.(type) {
		case timeline.LoadMore:
			_, err = r.gap.Fprintf(r.out, "  ... %d more events (page %d)\n\n", item.Count, item.Page)
		case timeline.ContiguousBlock:
			for _, event := range item.Events {
				if err = r.renderEvent(event); err != nil {
					break
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderEvent(event timeline.Event) error {
	if _, err := r.eventID.Fprintf(r.out, "%s ", event.ID); err != nil {
		return err
	}
	if event.Type == timeline.EventTypeLog {
		if _, err := r.logEntry.Fprintf(r.out, "[%s] ", logLabel(event)); err != nil {
			return err
		}
	}
	if _, err := r.author.Fprint(r.out, authorName(event)); err != nil {
		return err
	}
	if !event.Created.IsZero() {
		if _, err := fmt.Fprintf(r.out, "  %s", event.Created.In(time.Local).Format(timestampLayout)); err != nil {
			return err
		}
	}
	body := strings.TrimSpace(r.text.Text(event.Payload.Content))
	if body == "" {
		_, err := fmt.Fprint(r.out, "\n\n")
		return err
	}
	_, err := fmt.Fprintf(r.out, "\n    %s\n\n", strings.ReplaceAll(body, "\n", "\n    "))
	return err
}

func logLabel(event timeline.Event) string {
	if event.IsDeletedComment() {
		return "deleted"
	}
	if event.Payload.Event != "" {
		return event.Payload.Event
	}
	return "log"
}

func authorName(event timeline.Event) string {
	if event.Expanded != nil {
		if event.Expanded.FullName != "" {
			return event.Expanded.FullName
		}
		if event.Expanded.Username != "" {
			return event.Expanded.Username
		}
	}
	switch event.CreatedBy.Kind() {
	case timeline.CreatorUser:
		return "user " + event.CreatedBy.Reference()
	case timeline.CreatorEmail:
		return event.CreatedBy.Reference()
	default:
		return "system"
	}
}
