package timeline

import (
	"context"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultPageSize is the number of events per remote page.
const DefaultPageSize = 15

const (
	resultSuccess = "success"
	resultError   = "error"

	mutationCreate = "create"
	mutationUpdate = "update"
	mutationDelete = "delete"

	focusedEventMissingWarning = "The requested event could not be found in this timeline."
)

// PageQuery selects a remote page. When FocusEventID is set the remote source
// returns the page holding that event and Page is ignored.
type PageQuery struct {
	Page         int
	Size         int
	FocusEventID EventID
}

// PageResult is one fetched page and the total as reported by the remote source.
type PageResult struct {
	Page      int
	Events    []Event
	TotalHits int
}

// CommentPayload is the body of a create or update request.
type CommentPayload struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// EventsAPI is the remote source of one timeline (root or reply thread).
type EventsAPI interface {
	FetchPage(ctx context.Context, query PageQuery) (PageResult, error)
	CreateComment(ctx context.Context, payload CommentPayload) (Event, error)
	UpdateComment(ctx context.Context, id EventID, payload CommentPayload) (Event, error)
	DeleteComment(ctx context.Context, id EventID) (*Event, error)
}

// DraftStore persists the draft of one composer.
type DraftStore interface {
	Load(ctx context.Context) (string, bool, error)
	Save(ctx context.Context, content string) error
	Delete(ctx context.Context) error
}

// ContentSanitizer cleans submitted HTML and measures its text length.
type ContentSanitizer interface {
	Sanitize(rawHTML string) string
	CharCount(rawHTML string) int
}

// Recorder receives operational measurements.
type Recorder interface {
	RecordPageFetch(result string, duration time.Duration)
	RecordMutation(kind, result string)
	RecordRefresh(result string)
}

// Change describes a state change other parties may want to hear about.
type Change struct {
	RequestID string
	ParentID  EventID
	Reason    string
	EventIDs  []EventID
}

// Config describes the dependencies and settings of a Timeline.
type Config struct {
	RequestID        string
	ParentEventID    EventID
	PageSize         int
	CommentMaxLength int
	// RefreshInterval of zero uses DefaultRefreshInterval; negative disables polling.
	RefreshInterval time.Duration
	StatusDebounce  time.Duration

	API       EventsAPI
	Drafts    DraftStore
	Sanitizer ContentSanitizer
	Metrics   Recorder
	Logger    *zap.Logger
}

// Timeline is the dispatch boundary of one timeline: it talks to the remote
// source, folds results into State through Reduce and converts failures into
// state fields. State changes are serialised by a single mutex.
type Timeline struct {
	requestID        string
	parentID         EventID
	pageSize         int
	commentMaxLength int

	api       EventsAPI
	drafts    DraftStore
	sanitizer ContentSanitizer
	metrics   Recorder
	logger    *zap.Logger
	scheduler *RefreshScheduler
	debouncer *StatusDebouncer

	mu           sync.Mutex
	state        State
	closed       bool
	listeners    map[int]func(Change)
	nextListener int
}

// New validates the configuration and returns an unloaded Timeline.
func New(cfg Config) (*Timeline, error) {
	if cfg.API == nil {
		return nil, NewError(KindConfig, opNew, errMissingEventsAPI)
	}
	if cfg.RequestID == "" {
		return nil, NewError(KindConfig, opNew, errMissingRequestID)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("request_id", cfg.RequestID))
	if cfg.ParentEventID != "" {
		logger = logger.With(zap.String("parent_event_id", cfg.ParentEventID.String()))
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = plainSanitizer{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}

	t := &Timeline{
		requestID:        cfg.RequestID,
		parentID:         cfg.ParentEventID,
		pageSize:         pageSize,
		commentMaxLength: cfg.CommentMaxLength,
		api:              cfg.API,
		drafts:           cfg.Drafts,
		sanitizer:        sanitizer,
		metrics:          metrics,
		logger:           logger,
		state:            NewState(pageSize),
		listeners:        make(map[int]func(Change)),
	}
	t.debouncer = NewStatusDebouncer(cfg.StatusDebounce, nil)
	if cfg.ParentEventID == "" && cfg.RefreshInterval >= 0 {
		t.scheduler = NewRefreshScheduler(cfg.RefreshInterval, t.Refresh, logger)
	}
	return t, nil
}

// RequestID returns the request the timeline belongs to.
func (t *Timeline) RequestID() string {
	return t.requestID
}

// ParentEventID returns the parent comment of a reply thread, or "" for a root timeline.
func (t *Timeline) ParentEventID() EventID {
	return t.parentID
}

// IsReplyThread reports whether the timeline is a reply thread.
func (t *Timeline) IsReplyThread() bool {
	return t.parentID != ""
}

// Snapshot returns the current state. States are values and share no mutable data.
func (t *Timeline) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Feed compiles the current state into render instructions.
func (t *Timeline) Feed() []Instruction {
	state := t.Snapshot()
	return Compile(state.Store, CompileOptions{PageSize: state.PageSize, Reversed: t.IsReplyThread()})
}

// SchedulerState reports the refresh scheduler state; reply threads are always idle.
func (t *Timeline) SchedulerState() SchedulerState {
	if t.scheduler == nil {
		return SchedulerIdle
	}
	return t.scheduler.State()
}

// VisibleDraftStatus is the draft saving status after the input debounce.
func (t *Timeline) VisibleDraftStatus() DraftSavingStatus {
	return t.debouncer.Visible()
}

// CanSubmit reports whether content may be submitted right now.
func (t *Timeline) CanSubmit(content string) bool {
	state := t.Snapshot()
	return CanSubmit(t.sanitizer.CharCount(content), t.commentMaxLength, state.Submitting)
}

// Subscribe registers fn for change notifications and returns its cancel func.
func (t *Timeline) Subscribe(fn func(Change)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextListener
	t.nextListener++
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// Load fetches the first page, or the page holding focusEventID, and for root
// timelines also the last page, then starts the background refresh.
func (t *Timeline) Load(ctx context.Context, focusEventID EventID) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.dispatch(SetInitialLoading{Loading: true})
	defer t.dispatch(SetInitialLoading{Loading: false})

	query := PageQuery{Page: 1, Size: t.pageSize, FocusEventID: focusEventID}
	result, err := t.fetch(ctx, query)
	if err != nil && focusEventID != "" {
		t.logger.Warn("focused page fetch failed, falling back to first page",
			zap.String("event_id", focusEventID.String()), zap.Error(err))
		t.dispatch(SetWarning{Warning: focusedEventMissingWarning})
		query.FocusEventID = ""
		result, err = t.fetch(ctx, query)
	}
	if err != nil {
		return t.failFetch(opLoad, err)
	}

	actions := []Action{
		SetPage{Page: result.Page, Events: result.Events},
		SetTotalHits{Update: SetTotal(result.TotalHits)},
	}
	if focusEventID != "" && query.FocusEventID != "" {
		page := result.Page
		actions = append(actions, SetFocusedPage{Page: &page})
		if !containsEvent(result.Events, focusEventID) {
			actions = append(actions, SetWarning{Warning: focusedEventMissingWarning})
		}
	}
	t.dispatch(actions...)

	lastPage := ceilDiv(result.TotalHits, t.pageSize)
	if !t.IsReplyThread() && lastPage > result.Page {
		last, err := t.fetch(ctx, PageQuery{Page: lastPage, Size: t.pageSize})
		if err != nil {
			return t.failFetch(opLoad, err)
		}
		t.dispatch(
			SetPage{Page: last.Page, Events: last.Events},
			SetTotalHits{Update: SetTotal(last.TotalHits)},
		)
	}

	if t.scheduler != nil {
		t.scheduler.Start(context.WithoutCancel(ctx))
	}
	t.notify("load", nil)
	return nil
}

// LoadPage fetches one page, typically the target of a LoadMore instruction.
func (t *Timeline) LoadPage(ctx context.Context, page int) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.dispatch(SetLoadingMore{LoadingMore: true})
	defer t.dispatch(SetLoadingMore{LoadingMore: false})

	result, err := t.fetch(ctx, PageQuery{Page: page, Size: t.pageSize})
	if err != nil {
		return t.failFetch(opLoadPage, err)
	}
	t.dispatch(
		SetPage{Page: result.Page, Events: result.Events},
		SetTotalHits{Update: SetTotal(result.TotalHits)},
	)
	t.notify("load_page", eventIDs(result.Events))
	return nil
}

// Refresh refetches the current last page and replaces it wholesale. When the
// new total implies a further page, that page is fetched as well.
func (t *Timeline) Refresh(ctx context.Context) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}
	t.dispatch(SetRefreshing{Refreshing: true})
	defer t.dispatch(SetRefreshing{Refreshing: false})

	before := t.Snapshot().Store
	target := ceilDiv(before.TotalHits()-len(before.hits[VirtualPage]), t.pageSize)
	if target < 1 {
		target = 1
	}

	result, err := t.fetch(ctx, PageQuery{Page: target, Size: t.pageSize})
	if err != nil {
		t.metrics.RecordRefresh(resultError)
		return t.failFetch(opRefresh, err)
	}
	t.dispatch(
		SetPage{Page: result.Page, Events: result.Events},
		SetTotalHits{Update: SetTotal(result.TotalHits)},
	)
	changed := !sameEvents(before.Page(result.Page), result.Events)

	if newLast := ceilDiv(result.TotalHits, t.pageSize); newLast > result.Page {
		next, err := t.fetch(ctx, PageQuery{Page: newLast, Size: t.pageSize})
		if err != nil {
			t.metrics.RecordRefresh(resultError)
			return t.failFetch(opRefresh, err)
		}
		t.dispatch(
			SetPage{Page: next.Page, Events: next.Events},
			SetTotalHits{Update: SetTotal(next.TotalHits)},
		)
		changed = true
	}

	t.metrics.RecordRefresh(resultSuccess)
	if changed {
		t.notify("refresh", eventIDs(result.Events))
	}
	return nil
}

// SubmitComment posts a new comment and appends the confirmed record.
// On failure the draft is kept and the error is stored as a submission error.
func (t *Timeline) SubmitComment(ctx context.Context, content, format string) (Event, error) {
	if err := t.ensureOpen(); err != nil {
		return Event{}, err
	}
	payload, err := t.preparePayload(content, format)
	if err != nil {
		t.dispatch(HasSubmissionError{Message: err.Error()})
		return Event{}, NewError(KindSubmission, opSubmitComment, err)
	}

	t.suspend()
	defer t.resume()

	t.dispatch(SetSubmitting{Submitting: true})
	created, err := t.api.CreateComment(ctx, payload)
	if err != nil {
		t.metrics.RecordMutation(mutationCreate, resultError)
		t.logger.Error("comment submission failed", zap.String("operation", opSubmitComment), zap.Error(err))
		t.dispatch(HasSubmissionError{Message: err.Error()})
		return Event{}, NewError(KindSubmission, opSubmitComment, err)
	}
	t.metrics.RecordMutation(mutationCreate, resultSuccess)

	t.mu.Lock()
	t.state = t.appendConfirmed(t.state, created)
	t.state = Reduce(t.state, ClearDraft{})
	t.state = Reduce(t.state, SetSubmitting{Submitting: false})
	t.mu.Unlock()

	if t.drafts != nil {
		if err := t.drafts.Delete(ctx); err != nil {
			t.logger.Warn("draft cleanup failed", zap.String("operation", opSubmitComment), zap.Error(err))
		}
	}
	t.notify("comment_created", []EventID{created.ID})
	return created, nil
}

// UpdateComment edits a comment and merges the confirmed record in place.
func (t *Timeline) UpdateComment(ctx context.Context, id EventID, content, format string) (Event, error) {
	if err := t.ensureOpen(); err != nil {
		return Event{}, err
	}
	payload, err := t.preparePayload(content, format)
	if err != nil {
		t.dispatch(HasSubmissionError{Message: err.Error()})
		return Event{}, NewError(KindSubmission, opUpdateComment, err)
	}

	t.suspend()
	defer t.resume()

	updated, err := t.api.UpdateComment(ctx, id, payload)
	if err != nil {
		t.metrics.RecordMutation(mutationUpdate, resultError)
		t.logger.Error("comment update failed",
			zap.String("operation", opUpdateComment), zap.String("event_id", id.String()), zap.Error(err))
		t.dispatch(HasSubmissionError{Message: err.Error()})
		return Event{}, NewError(KindSubmission, opUpdateComment, err)
	}
	t.metrics.RecordMutation(mutationUpdate, resultSuccess)
	if updated.ID == "" {
		updated.ID = id
	}
	t.dispatch(UpdatedComment{Event: updated})
	t.notify("comment_updated", []EventID{id})
	return updated, nil
}

// DeleteComment deletes a comment; its slot becomes a deletion tombstone.
func (t *Timeline) DeleteComment(ctx context.Context, id EventID) error {
	if err := t.ensureOpen(); err != nil {
		return err
	}

	t.suspend()
	defer t.resume()

	deletionLog, err := t.api.DeleteComment(ctx, id)
	if err != nil {
		t.metrics.RecordMutation(mutationDelete, resultError)
		t.logger.Error("comment deletion failed",
			zap.String("operation", opDeleteComment), zap.String("event_id", id.String()), zap.Error(err))
		t.dispatch(HasSubmissionError{Message: err.Error()})
		return NewError(KindSubmission, opDeleteComment, err)
	}
	t.metrics.RecordMutation(mutationDelete, resultSuccess)
	t.dispatch(DeletedComment{ID: id, DeletionLog: deletionLog})
	t.notify("comment_deleted", []EventID{id})
	return nil
}

// DismissError clears the fetch error banner.
func (t *Timeline) DismissError() {
	t.dispatch(HasError{Message: ""})
}

// SetDraftContent updates the composer content.
func (t *Timeline) SetDraftContent(content string) {
	t.dispatch(SetDraftContent{Content: content})
	t.debouncer.Touch(t.Snapshot().Draft.SavingStatus)
}

// RestoreDraft loads the persisted draft at composer mount.
func (t *Timeline) RestoreDraft(ctx context.Context) error {
	if t.drafts == nil {
		t.dispatch(RestoreDraftContent{Content: ""})
		return nil
	}
	content, _, err := t.drafts.Load(ctx)
	if err != nil {
		t.logger.Warn("draft restore failed", zap.String("operation", opRestoreDraft), zap.Error(err))
		t.dispatch(RestoreDraftContent{Content: ""})
		return NewError(KindFetch, opRestoreDraft, err)
	}
	t.dispatch(RestoreDraftContent{Content: content})
	return nil
}

// SaveDraft persists the current composer content and records the outcome.
func (t *Timeline) SaveDraft(ctx context.Context) error {
	if t.drafts == nil {
		return nil
	}
	content := t.Snapshot().Draft.CommentContent
	err := t.drafts.Save(ctx, content)
	t.dispatch(DraftPersisted{Err: err})
	t.debouncer.Touch(t.Snapshot().Draft.SavingStatus)
	if err != nil {
		t.logger.Warn("draft save failed", zap.String("operation", opSaveDraft), zap.Error(err))
		return NewError(KindSubmission, opSaveDraft, err)
	}
	return nil
}

// ClearDraft empties the composer and removes the persisted draft.
func (t *Timeline) ClearDraft(ctx context.Context) error {
	t.dispatch(ClearDraft{})
	if t.drafts == nil {
		return nil
	}
	if err := t.drafts.Delete(ctx); err != nil {
		t.logger.Warn("draft delete failed", zap.String("operation", opClearDraft), zap.Error(err))
		return NewError(KindSubmission, opClearDraft, err)
	}
	return nil
}

// Close stops the background refresh. Results arriving afterwards are dropped.
func (t *Timeline) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	if t.scheduler != nil {
		t.scheduler.Stop()
	}
	t.debouncer.Stop()
}

// appendConfirmed places a newly created event. It joins the tail page when
// that page is resident; otherwise it waits on the virtual page so it never
// lands in the middle of the feed.
func (t *Timeline) appendConfirmed(state State, event Event) State {
	store := state.Store
	tail := ceilDiv(store.TotalHits()-len(store.hits[VirtualPage]), t.pageSize)
	lastPage, hasPages := store.LastPage()
	if !hasPages || tail == 0 || lastPage >= tail {
		state = Reduce(state, AppendToLastPage{Event: event})
	} else {
		pending := append(store.Page(VirtualPage), event)
		state = Reduce(state, SetPage{Page: VirtualPage, Events: pending})
	}
	return Reduce(state, SetTotalHits{Update: IncreaseTotal(1)})
}

func (t *Timeline) preparePayload(content, format string) (CommentPayload, error) {
	count := t.sanitizer.CharCount(content)
	if count == 0 {
		return CommentPayload{}, ErrCommentEmpty
	}
	if t.commentMaxLength > 0 && count >= t.commentMaxLength {
		return CommentPayload{}, ErrCommentTooLong
	}
	if format == "" {
		format = FormatHTML
	}
	return CommentPayload{Content: t.sanitizer.Sanitize(content), Format: format}, nil
}

func (t *Timeline) fetch(ctx context.Context, query PageQuery) (PageResult, error) {
	started := time.Now()
	result, err := t.api.FetchPage(ctx, query)
	if err != nil {
		t.metrics.RecordPageFetch(resultError, time.Since(started))
		return PageResult{}, err
	}
	t.metrics.RecordPageFetch(resultSuccess, time.Since(started))
	if result.Page == 0 {
		result.Page = query.Page
	}
	return result, nil
}

func (t *Timeline) failFetch(operation string, err error) error {
	t.logger.Error("timeline fetch failed", zap.String("operation", operation), zap.Error(err))
	t.dispatch(HasError{Message: err.Error()})
	return NewError(KindFetch, operation, err)
}

func (t *Timeline) dispatch(actions ...Action) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for _, action := range actions {
		t.state = Reduce(t.state, action)
	}
}

func (t *Timeline) ensureOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

func (t *Timeline) suspend() {
	if t.scheduler != nil {
		t.scheduler.Suspend()
	}
}

func (t *Timeline) resume() {
	if t.scheduler != nil {
		t.scheduler.Resume()
	}
}

func (t *Timeline) notify(reason string, ids []EventID) {
	t.mu.Lock()
	listeners := make([]func(Change), 0, len(t.listeners))
	for _, listener := range t.listeners {
		listeners = append(listeners, listener)
	}
	t.mu.Unlock()

	change := Change{RequestID: t.requestID, ParentID: t.parentID, Reason: reason, EventIDs: ids}
	for _, listener := range listeners {
		listener(change)
	}
}

func containsEvent(events []Event, id EventID) bool {
	return slices.ContainsFunc(events, func(event Event) bool { return event.ID == id })
}

func eventIDs(events []Event) []EventID {
	ids := make([]EventID, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	return ids
}

func sameEvents(a, b []Event) bool {
	return slices.EqualFunc(a, b, func(left, right Event) bool {
		return left.ID == right.ID && left.RevisionID == right.RevisionID && left.Type == right.Type
	})
}

type plainSanitizer struct{}

func (plainSanitizer) Sanitize(rawHTML string) string { return rawHTML }

func (plainSanitizer) CharCount(rawHTML string) int { return utf8.RuneCountInString(rawHTML) }

type nopRecorder struct{}

func (nopRecorder) RecordPageFetch(string, time.Duration) {}
func (nopRecorder) RecordMutation(string, string)         {}
func (nopRecorder) RecordRefresh(string)                  {}
