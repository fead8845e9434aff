package timeline

import "testing"

func TestReduceSubmissionLifecycle(t *testing.T) {
	state := NewState(10)

	state = Reduce(state, SetSubmitting{Submitting: true})
	state = Reduce(state, HasSubmissionError{Message: "boom"})
	if state.Submitting || state.SubmissionError != "boom" {
		t.Fatalf("expected error to stop submitting, got %+v", state)
	}

	state = Reduce(state, SetSubmitting{Submitting: true})
	if state.SubmissionError != "" {
		t.Fatalf("expected new submission to clear error")
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	initial := Reduce(NewState(10), SetPage{Page: 1, Events: commentRange("e", 1, 3)})

	next := Reduce(initial, AppendToLastPage{Event: comment("e4")})
	next = Reduce(next, SetTotalHits{Update: IncreaseTotal(1)})

	if initial.Store.Len() != 3 || initial.Store.TotalHits() != 0 {
		t.Fatalf("expected input state untouched, got len %d total %d", initial.Store.Len(), initial.Store.TotalHits())
	}
	if next.Store.Len() != 4 || next.Store.TotalHits() != 1 {
		t.Fatalf("unexpected next state len %d total %d", next.Store.Len(), next.Store.TotalHits())
	}
}

func TestReduceFocusedPageIsCopied(t *testing.T) {
	page := 3
	state := Reduce(NewState(10), SetFocusedPage{Page: &page})
	page = 5
	if state.FocusedPage == nil || *state.FocusedPage != 3 {
		t.Fatalf("expected focused page 3, got %v", state.FocusedPage)
	}
	state = Reduce(state, SetFocusedPage{})
	if state.FocusedPage != nil {
		t.Fatalf("expected focused page cleared")
	}
}

func TestReduceDeletedComment(t *testing.T) {
	state := Reduce(NewState(10), SetPage{Page: 1, Events: commentRange("e", 1, 3)})
	state = Reduce(state, SetTotalHits{Update: SetTotal(3)})

	state = Reduce(state, DeletedComment{ID: "e2"})

	if !state.Store.Page(1)[1].IsDeletedComment() {
		t.Fatalf("expected tombstone")
	}
}

func TestReduceDraftActions(t *testing.T) {
	state := NewState(10)
	state = Reduce(state, RestoreDraftContent{Content: "saved"})
	state = Reduce(state, SetDraftContent{Content: "typing"})
	state = Reduce(state, DraftPersisted{})
	if state.Draft.CommentContent != "typing" || state.Draft.SavingStatus != DraftStatusSuccess {
		t.Fatalf("unexpected draft %+v", state.Draft)
	}
	if *state.Draft.StoredCommentContent != "saved" {
		t.Fatalf("expected stored content to stay")
	}
	state = Reduce(state, ClearDraft{})
	if state.Draft.CommentContent != "" {
		t.Fatalf("expected cleared content")
	}
}
