package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func mustEventID(t *testing.T, raw string) EventID {
	t.Helper()
	id, err := NewEventID(raw)
	if err != nil {
		t.Fatalf("failed to create event id: %v", err)
	}
	return id
}

func comment(id string) Event {
	return Event{
		ID:         EventID(id),
		Type:       EventTypeComment,
		Payload:    Payload{Content: "<p>" + id + "</p>", Format: FormatHTML},
		CreatedBy:  UserCreator("1"),
		RevisionID: 1,
	}
}

// commentRange builds events named prefix+from through prefix+to.
func commentRange(prefix string, from, to int) []Event {
	events := make([]Event, 0, to-from+1)
	for i := from; i <= to; i++ {
		events = append(events, comment(fmt.Sprintf("%s%d", prefix, i)))
	}
	return events
}

func storeWith(totalHits int, pages map[int][]Event) PageStore {
	store := NewPageStore()
	for page, events := range pages {
		store = store.SetPage(page, events)
	}
	return store.SetTotalHits(SetTotal(totalHits))
}

func ids(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.ID.String())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fakeEventsAPI serves pages out of a flat, ordered event list.
type fakeEventsAPI struct {
	mu         sync.Mutex
	events     []Event
	fetchErr   error
	createErr  error
	deleteLog  *Event
	fetches    []PageQuery
	createHook func()
	nextID     int
}

func (f *fakeEventsAPI) FetchPage(ctx context.Context, query PageQuery) (PageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, query)
	if f.fetchErr != nil {
		return PageResult{}, f.fetchErr
	}
	page := query.Page
	if query.FocusEventID != "" {
		page = 0
		for index, event := range f.events {
			if event.ID == query.FocusEventID {
				page = index/query.Size + 1
			}
		}
		if page == 0 {
			return PageResult{}, errors.New("event not found")
		}
	}
	start := (page - 1) * query.Size
	end := start + query.Size
	if start > len(f.events) {
		start = len(f.events)
	}
	if end > len(f.events) {
		end = len(f.events)
	}
	return PageResult{
		Page:      page,
		Events:    append([]Event(nil), f.events[start:end]...),
		TotalHits: len(f.events),
	}, nil
}

func (f *fakeEventsAPI) CreateComment(ctx context.Context, payload CommentPayload) (Event, error) {
	if f.createHook != nil {
		f.createHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Event{}, f.createErr
	}
	f.nextID++
	created := Event{
		ID:         EventID(fmt.Sprintf("new%d", f.nextID)),
		Type:       EventTypeComment,
		Payload:    Payload{Content: payload.Content, Format: payload.Format},
		RevisionID: 1,
	}
	f.events = append(f.events, created)
	return created, nil
}

func (f *fakeEventsAPI) UpdateComment(ctx context.Context, id EventID, payload CommentPayload) (Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for index, event := range f.events {
		if event.ID == id {
			event.Payload = Payload{Content: payload.Content, Format: payload.Format}
			event.RevisionID++
			f.events[index] = event
			return event, nil
		}
	}
	return Event{}, errors.New("not found")
}

func (f *fakeEventsAPI) DeleteComment(ctx context.Context, id EventID) (*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for index, event := range f.events {
		if event.ID == id {
			f.events[index] = tombstoneFor(id)
			return f.deleteLog, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeEventsAPI) setEvents(events []Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = events
}

func (f *fakeEventsAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

type memoryDraftStore struct {
	content string
	present bool
	saveErr error
}

func (m *memoryDraftStore) Load(context.Context) (string, bool, error) {
	return m.content, m.present, nil
}

func (m *memoryDraftStore) Save(_ context.Context, content string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.content = content
	m.present = true
	return nil
}

func (m *memoryDraftStore) Delete(context.Context) error {
	m.content = ""
	m.present = false
	return nil
}

func newTestTimeline(t *testing.T, api EventsAPI, mutate func(*Config)) *Timeline {
	t.Helper()
	cfg := Config{
		RequestID:       "req-1",
		PageSize:        10,
		RefreshInterval: -1,
		API:             api,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	instance, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to build timeline: %v", err)
	}
	t.Cleanup(instance.Close)
	return instance
}
