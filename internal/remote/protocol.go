package remote

import (
	"encoding/json"
	"fmt"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/reviewers"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

// TimelineResponse is the body of a timeline or replies page.
// Page is only present when the page was located through focus_event_id.
type TimelineResponse struct {
	Hits struct {
		Hits  []timeline.Event `json:"hits"`
		Total int              `json:"total"`
	} `json:"hits"`
	Page int `json:"page,omitempty"`
}

// ErrorResponse is the JSON error body returned by the request API.
type ErrorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// UserHit is one user suggestion.
type UserHit struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsGhost  bool   `json:"is_ghost"`
	Profile  struct {
		FullName string `json:"full_name"`
	} `json:"profile"`
	Links struct {
		Avatar string `json:"avatar"`
	} `json:"links"`
}

// GroupHit is one group suggestion.
type GroupHit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsGhost     bool   `json:"is_ghost"`
	Links       struct {
		Avatar string `json:"avatar"`
	} `json:"links"`
}

type suggestionResponse[T any] struct {
	Hits struct {
		Hits []T `json:"hits"`
	} `json:"hits"`
}

// ReviewerRef is the wire reference of a reviewer: {"user": id} or {"group": id}.
type ReviewerRef struct {
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// RequestRecord is the subset of an expanded request record that carries its
// reviewers. Expanded entries line up with Reviewers by index.
type RequestRecord struct {
	Reviewers []ReviewerRef `json:"reviewers"`
	Expanded  struct {
		Reviewers []json.RawMessage `json:"reviewers"`
	} `json:"expanded"`
}

// UpdateReviewersRequest replaces the reviewer list of a request.
type UpdateReviewersRequest struct {
	Reviewers []ReviewerRef `json:"reviewers"`
}

func (h UserHit) reviewer() reviewers.Reviewer {
	name := h.Profile.FullName
	if name == "" {
		name = h.Username
	}
	return reviewers.Reviewer{
		Kind:        reviewers.KindUser,
		ID:          h.ID,
		Name:        name,
		Description: h.Email,
		AvatarURL:   h.Links.Avatar,
		IsGhost:     h.IsGhost,
	}
}

func (h GroupHit) reviewer() reviewers.Reviewer {
	return reviewers.Reviewer{
		Kind:        reviewers.KindGroup,
		ID:          h.ID,
		Name:        h.Name,
		Description: h.Description,
		AvatarURL:   h.Links.Avatar,
		IsGhost:     h.IsGhost,
	}
}

func (r RequestRecord) selection() ([]reviewers.Reviewer, error) {
	selected := make([]reviewers.Reviewer, 0, len(r.Reviewers))
	for index, ref := range r.Reviewers {
		var expanded json.RawMessage
		if index < len(r.Expanded.Reviewers) {
			expanded = r.Expanded.Reviewers[index]
		}
		reviewer, err := ref.resolve(expanded)
		if err != nil {
			return nil, err
		}
		selected = append(selected, reviewer)
	}
	return selected, nil
}

func (ref ReviewerRef) resolve(expanded json.RawMessage) (reviewers.Reviewer, error) {
	if ref.Group != "" {
		var hit GroupHit
		if len(expanded) > 0 {
			if err := json.Unmarshal(expanded, &hit); err != nil {
				return reviewers.Reviewer{}, fmt.Errorf("decode group reviewer: %w", err)
			}
		}
		hit.ID = ref.Group
		return hit.reviewer(), nil
	}
	var hit UserHit
	if len(expanded) > 0 {
		if err := json.Unmarshal(expanded, &hit); err != nil {
			return reviewers.Reviewer{}, fmt.Errorf("decode user reviewer: %w", err)
		}
	}
	hit.ID = ref.User
	return hit.reviewer(), nil
}

func reviewerRefs(selected []reviewers.Reviewer) []ReviewerRef {
	refs := make([]ReviewerRef, 0, len(selected))
	for _, reviewer := range selected {
		switch reviewer.Kind {
		case reviewers.KindGroup:
			refs = append(refs, ReviewerRef{Group: reviewer.ID})
		default:
			refs = append(refs, ReviewerRef{User: reviewer.ID})
		}
	}
	return refs
}

// decodeEventBody decodes an optional event record; an empty body yields nil.
func decodeEventBody(data []byte) (*timeline.Event, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var event timeline.Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.ID == "" {
		return nil, nil
	}
	return &event, nil
}
