package drafts

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("drafts: invalid user id")
	// ErrInvalidRequestID indicates that a request identifier is empty or exceeds storage bounds.
	ErrInvalidRequestID = errors.New("drafts: invalid request id")
	// ErrInvalidParentEventID indicates that a parent event identifier exceeds storage bounds.
	ErrInvalidParentEventID = errors.New("drafts: invalid parent event id")
)

// DraftKey addresses one composer: the root composer of a request when
// ParentEventID is empty, otherwise the reply composer of that comment.
type DraftKey struct {
	UserID        string
	RequestID     string
	ParentEventID string
}

// NewDraftKey validates raw input and returns a DraftKey.
func NewDraftKey(userID, requestID, parentEventID string) (DraftKey, error) {
	user := strings.TrimSpace(userID)
	if user == "" || len(user) > maxIdentifierLength {
		return DraftKey{}, fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	request := strings.TrimSpace(requestID)
	if request == "" || len(request) > maxIdentifierLength {
		return DraftKey{}, fmt.Errorf("%w: %q", ErrInvalidRequestID, requestID)
	}
	parent := strings.TrimSpace(parentEventID)
	if len(parent) > maxIdentifierLength {
		return DraftKey{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidParentEventID, maxIdentifierLength)
	}
	return DraftKey{UserID: user, RequestID: request, ParentEventID: parent}, nil
}

// String renders the key for logs.
func (k DraftKey) String() string {
	if k.ParentEventID == "" {
		return k.UserID + "/" + k.RequestID
	}
	return k.UserID + "/" + k.RequestID + "/" + k.ParentEventID
}

// CommentDraft is a persisted, not yet submitted comment.
type CommentDraft struct {
	DraftID          string `gorm:"column:draft_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_comment_drafts_key,priority:1"`
	RequestID        string `gorm:"column:request_id;size:190;not null;uniqueIndex:idx_comment_drafts_key,priority:2"`
	ParentEventID    string `gorm:"column:parent_event_id;size:190;not null;default:'';uniqueIndex:idx_comment_drafts_key,priority:3"`
	Content          string `gorm:"column:content;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (CommentDraft) TableName() string {
	return "comment_drafts"
}

// Key returns the composer the draft belongs to.
func (d CommentDraft) Key() DraftKey {
	return DraftKey{UserID: d.UserID, RequestID: d.RequestID, ParentEventID: d.ParentEventID}
}
