package timeline

import (
	"errors"
	"fmt"
)

var (
	// ErrCommentEmpty indicates that a comment has no text content.
	ErrCommentEmpty = errors.New("timeline: comment is empty")
	// ErrCommentTooLong indicates that a comment reaches the configured maximum length.
	ErrCommentTooLong = errors.New("timeline: comment exceeds maximum length")
	// ErrClosed indicates that the timeline was closed.
	ErrClosed = errors.New("timeline: closed")

	errMissingEventsAPI = errors.New("events api is required")
	errMissingRequestID = errors.New("request identifier is required")
)

// ErrorKind classifies failures surfaced by the dispatch boundary.
type ErrorKind string

const (
	// KindFetch marks a failed page load; the feed keeps its last good state.
	KindFetch ErrorKind = "fetch"
	// KindSubmission marks a failed create, update or delete; the draft is kept.
	KindSubmission ErrorKind = "submission"
	// KindSuggestion marks a failed typeahead lookup; callers degrade to no results.
	KindSuggestion ErrorKind = "suggestion"
	// KindConfig marks invalid construction options.
	KindConfig ErrorKind = "config"
)

const (
	opNew           = "timeline.new"
	opLoad          = "timeline.load"
	opLoadPage      = "timeline.load_page"
	opRefresh       = "timeline.refresh"
	opSubmitComment = "timeline.submit_comment"
	opUpdateComment = "timeline.update_comment"
	opDeleteComment = "timeline.delete_comment"
	opRestoreDraft  = "timeline.restore_draft"
	opSaveDraft     = "timeline.save_draft"
	opClearDraft    = "timeline.clear_draft"
)

// Error wraps a failure with its kind and the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code()
	}
	return fmt.Sprintf("%s: %v", e.Code(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns a stable identifier such as "fetch.timeline.load_page".
func (e *Error) Code() string {
	return fmt.Sprintf("%s.%s", e.Kind, e.Op)
}

// NewError wraps cause as a timeline Error.
func NewError(kind ErrorKind, operation string, cause error) error {
	return &Error{Kind: kind, Op: operation, Err: cause}
}

// IsKind reports whether err is a timeline Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var timelineErr *Error
	return errors.As(err, &timelineErr) && timelineErr.Kind == kind
}
