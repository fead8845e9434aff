package timeline

import "sort"

// VirtualPage holds events created locally in the current session that have
// not been attributed a real page number yet.
const VirtualPage = 0

// Position locates an event inside a PageStore.
type Position struct {
	Page  int
	Index int
}

// TotalHitsUpdate either sets the total explicitly or increases it by a delta.
// Total takes precedence when both are provided.
type TotalHitsUpdate struct {
	Total      *int
	IncreaseBy int
}

// SetTotal returns an update that replaces the total.
func SetTotal(total int) TotalHitsUpdate {
	return TotalHitsUpdate{Total: &total}
}

// IncreaseTotal returns an update that adds delta to the total.
func IncreaseTotal(delta int) TotalHitsUpdate {
	return TotalHitsUpdate{IncreaseBy: delta}
}

// PageStore maps page numbers to ordered events. It is a persistent value:
// every transition returns a new store and leaves the receiver untouched.
type PageStore struct {
	hits        map[int][]Event
	pageNumbers []int
	totalHits   int
}

// NewPageStore returns an empty store.
func NewPageStore() PageStore {
	return PageStore{hits: map[int][]Event{}}
}

// TotalHits is the event count last reported by the remote source.
func (s PageStore) TotalHits() int {
	return s.totalHits
}

// PageNumbers returns the resident page numbers in ascending order.
func (s PageStore) PageNumbers() []int {
	return append([]int(nil), s.pageNumbers...)
}

// HasPage reports whether the page is resident.
func (s PageStore) HasPage(page int) bool {
	_, ok := s.hits[page]
	return ok
}

// Page returns a copy of the events on a page, or nil when it is not resident.
func (s PageStore) Page(page int) []Event {
	events, ok := s.hits[page]
	if !ok {
		return nil
	}
	return append([]Event(nil), events...)
}

// LastPage returns the numerically largest resident page.
func (s PageStore) LastPage() (int, bool) {
	if len(s.pageNumbers) == 0 {
		return 0, false
	}
	return s.pageNumbers[len(s.pageNumbers)-1], true
}

// Len returns the number of resident events across all pages.
func (s PageStore) Len() int {
	count := 0
	for _, events := range s.hits {
		count += len(events)
	}
	return count
}

// Events returns every resident event in ascending page order.
func (s PageStore) Events() []Event {
	events := make([]Event, 0, s.Len())
	for _, page := range s.pageNumbers {
		events = append(events, s.hits[page]...)
	}
	return events
}

// SetPage replaces or inserts the events of a page. Storing a real page
// drops any virtual-page event whose identifier it now carries, and the
// virtual page itself once it is empty.
func (s PageStore) SetPage(page int, events []Event) PageStore {
	next := s.withHits()
	next.hits[page] = append([]Event(nil), events...)
	if !s.HasPage(page) {
		next.pageNumbers = insertSorted(s.pageNumbers, page)
	}
	if page != VirtualPage && s.HasPage(VirtualPage) {
		next = next.settleVirtual(events)
	}
	return next
}

// settleVirtual removes virtual-page events that now live on a real page.
// next must already own its hits map.
func (s PageStore) settleVirtual(events []Event) PageStore {
	placed := make(map[EventID]struct{}, len(events))
	for _, event := range events {
		placed[event.ID] = struct{}{}
	}
	pending := s.hits[VirtualPage]
	kept := make([]Event, 0, len(pending))
	for _, event := range pending {
		if _, ok := placed[event.ID]; !ok {
			kept = append(kept, event)
		}
	}
	if len(kept) == len(pending) {
		return s
	}
	if len(kept) > 0 {
		s.hits[VirtualPage] = kept
		return s
	}
	delete(s.hits, VirtualPage)
	s.pageNumbers = removePage(s.pageNumbers, VirtualPage)
	return s
}

// AppendToLastOrNewPage appends the event to the largest resident page while
// it holds fewer than pageSize events, otherwise it opens the next page.
// An empty store is seeded at page 1.
func (s PageStore) AppendToLastOrNewPage(event Event, pageSize int) PageStore {
	lastPage, ok := s.LastPage()
	if !ok {
		return s.SetPage(1, []Event{event})
	}
	current := s.hits[lastPage]
	if len(current) >= pageSize {
		return s.SetPage(lastPage+1, []Event{event})
	}
	events := make([]Event, 0, len(current)+1)
	events = append(events, current...)
	events = append(events, event)
	next := s.withHits()
	next.hits[lastPage] = events
	return next
}

// SetTotalHits applies an explicit total or an increment, never both.
func (s PageStore) SetTotalHits(update TotalHitsUpdate) PageStore {
	next := s
	switch {
	case update.Total != nil:
		next.totalHits = *update.Total
	case update.IncreaseBy != 0:
		next.totalHits = s.totalHits + update.IncreaseBy
	}
	return next
}

// FindByIdentity scans resident pages in ascending order. When an identifier is
// (incorrectly) duplicated the last match wins.
func (s PageStore) FindByIdentity(id EventID) (Position, bool) {
	position := Position{}
	found := false
	for _, page := range s.pageNumbers {
		for index, event := range s.hits[page] {
			if event.ID == id {
				position = Position{Page: page, Index: index}
				found = true
				break
			}
		}
	}
	return position, found
}

// replaceAt swaps the event at position, copying only the touched page.
func (s PageStore) replaceAt(position Position, event Event) PageStore {
	next := s.withHits()
	events := append([]Event(nil), s.hits[position.Page]...)
	events[position.Index] = event
	next.hits[position.Page] = events
	return next
}

// withHits returns a shallow copy whose hits map may be written.
func (s PageStore) withHits() PageStore {
	hits := make(map[int][]Event, len(s.hits)+1)
	for page, events := range s.hits {
		hits[page] = events
	}
	return PageStore{
		hits:        hits,
		pageNumbers: s.pageNumbers,
		totalHits:   s.totalHits,
	}
}

func insertSorted(pages []int, page int) []int {
	next := make([]int, 0, len(pages)+1)
	next = append(next, pages...)
	next = append(next, page)
	sort.Ints(next)
	return next
}

func removePage(pages []int, page int) []int {
	next := make([]int, 0, len(pages))
	for _, existing := range pages {
		if existing != page {
			next = append(next, existing)
		}
	}
	return next
}
