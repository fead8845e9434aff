// Package reviewers manages the reviewers of a request: typeahead search over
// users and groups and updates of the selected list.
package reviewers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

// MinQueryLength is the shortest query sent to the suggestion endpoints.
const MinQueryLength = 2

const (
	opLoad   = "reviewers.load"
	opSearch = "reviewers.search"
	opAdd    = "reviewers.add"
	opRemove = "reviewers.remove"
)

var (
	// ErrUnknownKind indicates a reviewer kind other than user or group.
	ErrUnknownKind = errors.New("reviewers: unknown reviewer kind")
	errMissingAPI  = errors.New("reviewers api is required")
)

// Kind discriminates user reviewers from group reviewers.
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

// ParseKind validates a raw kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindUser:
		return KindUser, nil
	case KindGroup:
		return KindGroup, nil
	default:
		return "", ErrUnknownKind
	}
}

// Reviewer is a user or group reviewing a request.
type Reviewer struct {
	Kind        Kind   `json:"kind"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar,omitempty"`
	// IsGhost marks a reviewer whose account or group no longer exists.
	IsGhost bool `json:"is_ghost,omitempty"`
}

func (r Reviewer) sameAs(other Reviewer) bool {
	return r.Kind == other.Kind && r.ID == other.ID
}

// API is the remote side of reviewer management.
type API interface {
	RequestReviewers(ctx context.Context, requestID string) ([]Reviewer, error)
	SuggestUsers(ctx context.Context, query string) ([]Reviewer, error)
	SuggestGroups(ctx context.Context, query string) ([]Reviewer, error)
	UpdateReviewers(ctx context.Context, requestID string, selected []Reviewer) error
}

// Service holds the selected reviewers of one request. Updates re-read the
// remote list first, so concurrent editors never drop each other's reviewers.
type Service struct {
	api       API
	requestID string
	logger    *zap.Logger

	mu       sync.Mutex
	selected []Reviewer
}

// NewService constructs a Service seeded with the reviewers already on the request.
func NewService(api API, requestID string, initial []Reviewer, logger *zap.Logger) (*Service, error) {
	if api == nil {
		return nil, errMissingAPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		api:       api,
		requestID: requestID,
		logger:    logger.With(zap.String("request_id", requestID)),
		selected:  append([]Reviewer(nil), initial...),
	}, nil
}

// Search returns suggestions for query. Queries shorter than MinQueryLength
// return no results without a remote call. A failed lookup is logged and
// degrades to an empty result; the returned error carries KindSuggestion.
func (s *Service) Search(ctx context.Context, kind Kind, query string) ([]Reviewer, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinQueryLength {
		return []Reviewer{}, nil
	}

	var (
		results []Reviewer
		err     error
	)
	switch kind {
	case KindUser:
		results, err = s.api.SuggestUsers(ctx, query)
	case KindGroup:
		results, err = s.api.SuggestGroups(ctx, query)
	default:
		return []Reviewer{}, timeline.NewError(timeline.KindSuggestion, opSearch, ErrUnknownKind)
	}
	if err != nil {
		s.logger.Warn("reviewer suggestion failed",
			zap.String("operation", opSearch),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return []Reviewer{}, timeline.NewError(timeline.KindSuggestion, opSearch, err)
	}
	if results == nil {
		results = []Reviewer{}
	}
	return results, nil
}

// Load replaces the selection with the reviewers currently on the request.
func (s *Service) Load(ctx context.Context) ([]Reviewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.syncLocked(ctx, opLoad); err != nil {
		return s.selectedLocked(), err
	}
	return s.selectedLocked(), nil
}

// Add appends a reviewer to the current remote list and sends the full list
// back. Adding a reviewer that is already selected does nothing.
func (s *Service) Add(ctx context.Context, reviewer Reviewer) ([]Reviewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx, opAdd); err != nil {
		return s.selectedLocked(), err
	}
	for _, existing := range s.selected {
		if existing.sameAs(reviewer) {
			return s.selectedLocked(), nil
		}
	}
	next := append(s.selectedLocked(), reviewer)
	if err := s.api.UpdateReviewers(ctx, s.requestID, next); err != nil {
		s.logger.Error("reviewer update failed", zap.String("operation", opAdd), zap.Error(err))
		return s.selectedLocked(), timeline.NewError(timeline.KindSubmission, opAdd, err)
	}
	s.selected = next
	return s.selectedLocked(), nil
}

// Remove drops a reviewer from the current remote list and sends the rest.
func (s *Service) Remove(ctx context.Context, kind Kind, id string) ([]Reviewer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.syncLocked(ctx, opRemove); err != nil {
		return s.selectedLocked(), err
	}
	target := Reviewer{Kind: kind, ID: id}
	next := make([]Reviewer, 0, len(s.selected))
	for _, existing := range s.selected {
		if !existing.sameAs(target) {
			next = append(next, existing)
		}
	}
	if len(next) == len(s.selected) {
		return s.selectedLocked(), nil
	}
	if err := s.api.UpdateReviewers(ctx, s.requestID, next); err != nil {
		s.logger.Error("reviewer update failed", zap.String("operation", opRemove), zap.Error(err))
		return s.selectedLocked(), timeline.NewError(timeline.KindSubmission, opRemove, err)
	}
	s.selected = next
	return s.selectedLocked(), nil
}

// Selected returns the current reviewers.
func (s *Service) Selected() []Reviewer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

func (s *Service) selectedLocked() []Reviewer {
	return append([]Reviewer{}, s.selected...)
}

func (s *Service) syncLocked(ctx context.Context, op string) error {
	current, err := s.api.RequestReviewers(ctx, s.requestID)
	if err != nil {
		s.logger.Warn("reviewer list read failed", zap.String("operation", op), zap.Error(err))
		return timeline.NewError(timeline.KindFetch, op, err)
	}
	s.selected = append([]Reviewer(nil), current...)
	return nil
}
