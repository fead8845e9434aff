package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/drafts"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/reviewers"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

var (
	errMissingEventsSource = errors.New("events source dependency required")
	errMissingReviewersAPI = errors.New("reviewers api dependency required")
	errMissingDraftStore   = errors.New("draft store dependency required")
	errMissingDispatcher   = errors.New("stream dispatcher dependency required")
)

// EventsSource returns the remote events API of a root timeline, or of the
// reply thread of parentID when it is not empty.
type EventsSource func(requestID string, parentID timeline.EventID) timeline.EventsAPI

// TimelineSettings are applied to every timeline the registry opens.
type TimelineSettings struct {
	PageSize         int
	CommentMaxLength int
	RefreshInterval  time.Duration
	StatusDebounce   time.Duration
}

// OpenTimelinesGauge receives the number of live timelines.
type OpenTimelinesGauge interface {
	SetOpenTimelines(count int)
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Events    EventsSource
	Reviewers reviewers.API
	Drafts    *drafts.Store
	Sanitizer timeline.ContentSanitizer
	Metrics   timeline.Recorder
	Gauge     OpenTimelinesGauge
	Stream    *StreamDispatcher
	Settings  TimelineSettings
	Clock     func() time.Time
	Logger    *zap.Logger
}

type timelineKey struct {
	userID    string
	requestID string
	parentID  timeline.EventID
}

type timelineEntry struct {
	timeline    *timeline.Timeline
	unsubscribe func()
	lastAccess  time.Time
}

// Registry keeps one live Timeline per user, request and reply thread, so
// the refresh loop and the draft of a composer survive between HTTP calls.
type Registry struct {
	cfg    RegistryConfig
	clock  func() time.Time
	logger *zap.Logger

	mu        sync.Mutex
	timelines map[timelineKey]*timelineEntry
	reviewers map[string]*reviewers.Service
}

// NewRegistry validates cfg and returns an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Events == nil {
		return nil, errMissingEventsSource
	}
	if cfg.Reviewers == nil {
		return nil, errMissingReviewersAPI
	}
	if cfg.Drafts == nil {
		return nil, errMissingDraftStore
	}
	if cfg.Stream == nil {
		return nil, errMissingDispatcher
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
		timelines: make(map[timelineKey]*timelineEntry),
		reviewers: make(map[string]*reviewers.Service),
	}, nil
}

// Open returns the live timeline for the key, creating and loading it on
// first use. A focus on an existing timeline loads the focused page into it.
func (r *Registry) Open(ctx context.Context, key drafts.DraftKey, focus timeline.EventID) (*timeline.Timeline, error) {
	mapKey := timelineKey{userID: key.UserID, requestID: key.RequestID, parentID: timeline.EventID(key.ParentEventID)}

	r.mu.Lock()
	entry, ok := r.timelines[mapKey]
	if ok {
		entry.lastAccess = r.clock()
		r.mu.Unlock()
		if focus != "" {
			if err := entry.timeline.Load(ctx, focus); err != nil {
				return entry.timeline, err
			}
		}
		return entry.timeline, nil
	}
	r.mu.Unlock()

	created, err := r.build(key)
	if err != nil {
		return nil, err
	}
	if err := created.RestoreDraft(ctx); err != nil {
		r.logger.Warn("draft restore failed", zap.String("draft_key", key.String()), zap.Error(err))
	}
	if err := created.Load(ctx, focus); err != nil {
		created.Close()
		return nil, err
	}

	r.mu.Lock()
	if existing, raced := r.timelines[mapKey]; raced {
		r.mu.Unlock()
		created.Close()
		return existing.timeline, nil
	}
	entry = &timelineEntry{timeline: created, lastAccess: r.clock()}
	entry.unsubscribe = created.Subscribe(r.publisher(key.UserID))
	r.timelines[mapKey] = entry
	count := len(r.timelines)
	r.mu.Unlock()

	r.reportOpen(count)
	return created, nil
}

// Lookup returns an already open timeline without loading anything.
func (r *Registry) Lookup(key drafts.DraftKey) (*timeline.Timeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.timelines[timelineKey{userID: key.UserID, requestID: key.RequestID, parentID: timeline.EventID(key.ParentEventID)}]
	if !ok {
		return nil, false
	}
	entry.lastAccess = r.clock()
	return entry.timeline, true
}

// Reviewers returns the reviewer service of a request, shared by every user
// working on it.
func (r *Registry) Reviewers(requestID string) (*reviewers.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if service, ok := r.reviewers[requestID]; ok {
		return service, nil
	}
	service, err := reviewers.NewService(r.cfg.Reviewers, requestID, nil, r.logger)
	if err != nil {
		return nil, err
	}
	r.reviewers[requestID] = service
	return service, nil
}

// Drafts lists the unsent drafts a user keeps on a request, including those
// of timelines that are not open.
func (r *Registry) Drafts(ctx context.Context, userID, requestID string) ([]drafts.CommentDraft, error) {
	return r.cfg.Drafts.ListForRequest(ctx, userID, requestID)
}

// Sweep closes timelines nobody touched for maxIdle and returns how many it closed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.clock().Add(-maxIdle)
	r.mu.Lock()
	var stale []*timelineEntry
	for key, entry := range r.timelines {
		if entry.lastAccess.Before(cutoff) {
			stale = append(stale, entry)
			delete(r.timelines, key)
		}
	}
	count := len(r.timelines)
	r.mu.Unlock()

	for _, entry := range stale {
		entry.unsubscribe()
		entry.timeline.Close()
	}
	if len(stale) > 0 {
		r.reportOpen(count)
		r.logger.Debug("closed idle timelines", zap.Int("closed", len(stale)), zap.Int("open", count))
	}
	return len(stale)
}

// Close stops every open timeline.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := make([]*timelineEntry, 0, len(r.timelines))
	for _, entry := range r.timelines {
		entries = append(entries, entry)
	}
	r.timelines = make(map[timelineKey]*timelineEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.unsubscribe()
		entry.timeline.Close()
	}
	r.reportOpen(0)
}

func (r *Registry) build(key drafts.DraftKey) (*timeline.Timeline, error) {
	parentID := timeline.EventID(key.ParentEventID)
	settings := r.cfg.Settings
	return timeline.New(timeline.Config{
		RequestID:        key.RequestID,
		ParentEventID:    parentID,
		PageSize:         settings.PageSize,
		CommentMaxLength: settings.CommentMaxLength,
		RefreshInterval:  settings.RefreshInterval,
		StatusDebounce:   settings.StatusDebounce,
		API:              r.cfg.Events(key.RequestID, parentID),
		Drafts:           r.cfg.Drafts.Bind(key),
		Sanitizer:        r.cfg.Sanitizer,
		Metrics:          r.cfg.Metrics,
		Logger:           r.logger.With(zap.String("user_id", key.UserID)),
	})
}

func (r *Registry) publisher(userID string) func(timeline.Change) {
	return func(change timeline.Change) {
		ids := make([]string, 0, len(change.EventIDs))
		for _, id := range change.EventIDs {
			ids = append(ids, id.String())
		}
		r.cfg.Stream.Publish(StreamMessage{
			Topic:     streamTopic(userID, change.RequestID),
			EventType: StreamEventTimelineChanged,
			RequestID: change.RequestID,
			ParentID:  change.ParentID.String(),
			Reason:    change.Reason,
			EventIDs:  ids,
			Timestamp: r.clock().UTC(),
		})
	}
}

func (r *Registry) reportOpen(count int) {
	if r.cfg.Gauge != nil {
		r.cfg.Gauge.SetOpenTimelines(count)
	}
}
