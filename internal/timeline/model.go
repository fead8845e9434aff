package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEventID indicates that an event identifier is empty or exceeds storage bounds.
	ErrInvalidEventID = errors.New("timeline: invalid event id")
	// ErrInvalidCreatedBy indicates that a creator reference names neither a user nor an email.
	ErrInvalidCreatedBy = errors.New("timeline: invalid created_by reference")
)

// EventID represents a validated timeline event identifier.
type EventID string

// NewEventID validates raw input and returns an EventID.
func NewEventID(rawInput string) (EventID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEventID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEventID, maxIdentifierLength)
	}
	return EventID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EventID) String() string {
	return string(id)
}

// EventType discriminates comments from system log entries.
type EventType string

const (
	// EventTypeComment marks a user-authored comment.
	EventTypeComment EventType = "C"
	// EventTypeLog marks a system log entry, including deletion tombstones.
	EventTypeLog EventType = "L"
)

const (
	// FormatHTML is the only content format produced by the comment editor.
	FormatHTML = "html"

	// LogEventCommentDeleted tags the tombstone that replaces a deleted comment.
	LogEventCommentDeleted = "comment_deleted"

	deletedCommentContent = "comment was deleted"
)

// Payload carries the content of an event. Event is only set on log entries.
type Payload struct {
	Content string `json:"content,omitempty"`
	Format  string `json:"format,omitempty"`
	Event   string `json:"event,omitempty"`
}

// IsZero reports whether no payload field is set.
func (p Payload) IsZero() bool {
	return p.Content == "" && p.Format == "" && p.Event == ""
}

// CreatorKind enumerates the variants of CreatedBy.
type CreatorKind int

const (
	creatorUnset CreatorKind = iota
	// CreatorUser references a registered user by id.
	CreatorUser
	// CreatorEmail references an unregistered participant by email address.
	CreatorEmail
)

// CreatedBy is the tagged reference to the author of an event.
type CreatedBy struct {
	kind      CreatorKind
	reference string
}

// UserCreator returns a CreatedBy referencing a user id.
func UserCreator(userID string) CreatedBy {
	return CreatedBy{kind: CreatorUser, reference: userID}
}

// EmailCreator returns a CreatedBy referencing an email address.
func EmailCreator(email string) CreatedBy {
	return CreatedBy{kind: CreatorEmail, reference: email}
}

// Kind returns the variant tag.
func (c CreatedBy) Kind() CreatorKind {
	return c.kind
}

// Reference returns the user id or email address.
func (c CreatedBy) Reference() string {
	return c.reference
}

// IsZero reports whether the creator is unset.
func (c CreatedBy) IsZero() bool {
	return c.kind == creatorUnset
}

type createdByWire struct {
	User  string `json:"user,omitempty"`
	Email string `json:"email,omitempty"`
}

// MarshalJSON encodes the creator as {"user": id} or {"email": address}.
func (c CreatedBy) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case CreatorUser:
		return json.Marshal(createdByWire{User: c.reference})
	case CreatorEmail:
		return json.Marshal(createdByWire{Email: c.reference})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes {"user": id} or {"email": address}.
func (c *CreatedBy) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = CreatedBy{}
		return nil
	}
	var wire createdByWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCreatedBy, err)
	}
	switch {
	case wire.User != "":
		*c = UserCreator(wire.User)
	case wire.Email != "":
		*c = EmailCreator(wire.Email)
	default:
		return fmt.Errorf("%w: neither user nor email", ErrInvalidCreatedBy)
	}
	return nil
}

// Permissions are the current viewer's rights on an event. A nil pointer on an
// Event means the record did not carry them.
type Permissions struct {
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

// ExpandedCreator is the resolved profile of the event author.
type ExpandedCreator struct {
	FullName  string `json:"full_name,omitempty"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Links address an event on the remote API.
type Links struct {
	Self     string `json:"self,omitempty"`
	SelfHTML string `json:"self_html,omitempty"`
}

// Event is one timeline entry. Stored events are replaced, never patched in place.
type Event struct {
	ID          EventID          `json:"id"`
	Type        EventType        `json:"type"`
	Payload     Payload          `json:"payload"`
	CreatedBy   CreatedBy        `json:"created_by"`
	Created     time.Time        `json:"created"`
	RevisionID  int              `json:"revision_id"`
	Permissions *Permissions     `json:"permissions,omitempty"`
	Expanded    *ExpandedCreator `json:"expanded,omitempty"`
	ParentID    EventID          `json:"parent_id,omitempty"`
	Links       Links            `json:"links"`
}

// IsComment reports whether the event is a user comment.
func (e Event) IsComment() bool {
	return e.Type == EventTypeComment
}

// IsDeletedComment reports whether the event is a deletion tombstone.
func (e Event) IsDeletedComment() bool {
	return e.Type == EventTypeLog && e.Payload.Event == LogEventCommentDeleted
}

func tombstoneFor(id EventID) Event {
	return Event{
		ID:   id,
		Type: EventTypeLog,
		Payload: Payload{
			Content: deletedCommentContent,
			Format:  FormatHTML,
			Event:   LogEventCommentDeleted,
		},
	}
}
