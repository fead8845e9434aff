package timeline

// State is everything one timeline instance renders from.
type State struct {
	PageSize int
	Store    PageStore

	InitialLoading     bool
	LastPageRefreshing bool
	LoadingMore        bool
	Submitting         bool

	Error           string
	SubmissionError string
	Warning         string

	// FocusedPage is the page holding the event the view was opened on.
	FocusedPage *int

	Draft DraftState
}

// NewState returns the initial state for the given page size.
func NewState(pageSize int) State {
	return State{PageSize: pageSize, Store: NewPageStore()}
}

// Action is a state transition applied by Reduce.
type Action interface {
	isAction()
}

type (
	SetInitialLoading struct{ Loading bool }
	SetRefreshing     struct{ Refreshing bool }
	SetPage           struct {
		Page   int
		Events []Event
	}
	AppendToLastPage struct{ Event Event }
	SetTotalHits     struct{ Update TotalHitsUpdate }
	SetFocusedPage   struct{ Page *int }
	SetLoadingMore   struct{ LoadingMore bool }
	// SetSubmitting also clears a previous submission error.
	SetSubmitting struct{ Submitting bool }
	HasError      struct{ Message string }
	// HasSubmissionError also clears the submitting flag.
	HasSubmissionError struct{ Message string }
	SetWarning         struct{ Warning string }
	UpdatedComment     struct{ Event Event }
	DeletedComment     struct {
		ID          EventID
		DeletionLog *Event
	}
	SetDraftContent     struct{ Content string }
	RestoreDraftContent struct{ Content string }
	DraftPersisted      struct{ Err error }
	ClearDraft          struct{}
)

func (SetInitialLoading) isAction()   {}
func (SetRefreshing) isAction()       {}
func (SetPage) isAction()             {}
func (AppendToLastPage) isAction()    {}
func (SetTotalHits) isAction()        {}
func (SetFocusedPage) isAction()      {}
func (SetLoadingMore) isAction()      {}
func (SetSubmitting) isAction()       {}
func (HasError) isAction()            {}
func (HasSubmissionError) isAction()  {}
func (SetWarning) isAction()          {}
func (UpdatedComment) isAction()      {}
func (DeletedComment) isAction()      {}
func (SetDraftContent) isAction()     {}
func (RestoreDraftContent) isAction() {}
func (DraftPersisted) isAction()      {}
func (ClearDraft) isAction()          {}

// Reduce applies an action and returns the next state. The input state is not
// modified; unknown actions return it unchanged.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case SetInitialLoading:
		state.InitialLoading = a.Loading
	case SetRefreshing:
		state.LastPageRefreshing = a.Refreshing
	case SetPage:
		state.Store = state.Store.SetPage(a.Page, a.Events)
	case AppendToLastPage:
		state.Store = state.Store.AppendToLastOrNewPage(a.Event, state.PageSize)
	case SetTotalHits:
		state.Store = state.Store.SetTotalHits(a.Update)
	case SetFocusedPage:
		if a.Page == nil {
			state.FocusedPage = nil
		} else {
			page := *a.Page
			state.FocusedPage = &page
		}
	case SetLoadingMore:
		state.LoadingMore = a.LoadingMore
	case SetSubmitting:
		state.Submitting = a.Submitting
		state.SubmissionError = ""
	case HasError:
		state.Error = a.Message
	case HasSubmissionError:
		state.Submitting = false
		state.SubmissionError = a.Message
	case SetWarning:
		state.Warning = a.Warning
	case UpdatedComment:
		state.Store = ApplyUpdate(state.Store, a.Event)
	case DeletedComment:
		state.Store = ReconcileDeletion(state.Store, a.ID, a.DeletionLog, state.PageSize)
	case SetDraftContent:
		state.Draft = state.Draft.SetContent(a.Content)
	case RestoreDraftContent:
		state.Draft = state.Draft.RestoreContent(a.Content)
	case DraftPersisted:
		state.Draft = state.Draft.MarkPersisted(a.Err)
	case ClearDraft:
		state.Draft = state.Draft.ClearAfterSubmit()
	}
	return state
}
