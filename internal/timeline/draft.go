package timeline

import (
	"sync"
	"time"
)

// DraftSavingStatus reports the outcome of the last draft persistence attempt.
type DraftSavingStatus string

const (
	DraftStatusNone    DraftSavingStatus = ""
	DraftStatusSuccess DraftSavingStatus = "success"
	DraftStatusError   DraftSavingStatus = "error"
)

// DefaultStatusDebounce is the input inactivity required before a saving status is surfaced.
const DefaultStatusDebounce = 500 * time.Millisecond

// DraftState is the locally composed, unsaved comment of one composer.
type DraftState struct {
	CommentContent string
	// StoredCommentContent is set by the first restore only and backs the
	// editor's fixed initial value.
	StoredCommentContent *string
	SavingStatus         DraftSavingStatus
}

// SetContent updates the editable content.
func (d DraftState) SetContent(content string) DraftState {
	d.CommentContent = content
	return d
}

// RestoreContent loads content at composer mount. The stored content is
// write-once; later restores only change CommentContent.
func (d DraftState) RestoreContent(content string) DraftState {
	d.CommentContent = content
	if d.StoredCommentContent == nil {
		stored := content
		d.StoredCommentContent = &stored
	}
	return d
}

// MarkPersisted records the result of persisting the draft.
func (d DraftState) MarkPersisted(err error) DraftState {
	if err != nil {
		d.SavingStatus = DraftStatusError
		return d
	}
	d.SavingStatus = DraftStatusSuccess
	return d
}

// ClearAfterSubmit empties the composer once its comment was posted.
func (d DraftState) ClearAfterSubmit() DraftState {
	d.CommentContent = ""
	d.SavingStatus = DraftStatusNone
	return d
}

// CanSubmit gates the submit action of a composer. A maxLength of zero or less
// disables the length limit.
func CanSubmit(charCount, maxLength int, submitting bool) bool {
	if submitting || charCount <= 0 {
		return false
	}
	return maxLength <= 0 || charCount < maxLength
}

// StatusDebouncer surfaces the latest draft saving status only after a quiet
// period without input, so the indicator does not flicker while typing.
type StatusDebouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	gen     uint64
	pending DraftSavingStatus
	visible DraftSavingStatus
	notify  func(DraftSavingStatus)
}

// NewStatusDebouncer builds a debouncer. notify may be nil.
func NewStatusDebouncer(delay time.Duration, notify func(DraftSavingStatus)) *StatusDebouncer {
	if delay <= 0 {
		delay = DefaultStatusDebounce
	}
	return &StatusDebouncer{delay: delay, notify: notify}
}

// Touch records input activity: the visible status is hidden and the quiet
// period restarts with the given status pending.
func (d *StatusDebouncer) Touch(status DraftSavingStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = status
	d.visible = DraftStatusNone
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.surface(gen) })
}

// Visible returns the status currently shown to the user.
func (d *StatusDebouncer) Visible() DraftSavingStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible
}

// Stop cancels a pending surface.
func (d *StatusDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *StatusDebouncer) surface(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.visible = d.pending
	status := d.visible
	notify := d.notify
	d.mu.Unlock()
	if notify != nil {
		notify(status)
	}
}
