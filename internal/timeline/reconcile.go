package timeline

// ApplyUpdate folds a server-confirmed record into the store. Every field the
// update carries overrides the stored one; an identifier that is not resident
// leaves the store unchanged since it may live on a page not loaded yet.
func ApplyUpdate(store PageStore, update Event) PageStore {
	position, found := store.FindByIdentity(update.ID)
	if !found {
		return store
	}
	stored := store.hits[position.Page][position.Index]
	return store.replaceAt(position, mergeEvent(stored, update))
}

// ApplyDelete converts the event into a deletion tombstone at the same position.
func ApplyDelete(store PageStore, id EventID) PageStore {
	return ApplyUpdate(store, tombstoneFor(id))
}

// ReconcileDeletion applies a confirmed deletion. The tombstone always keeps
// the slot. When the deleted event sits on the last page of the timeline the
// server's deletion log is folded in as well: merged in place when it reuses
// the identifier, appended as a new tail event otherwise.
func ReconcileDeletion(store PageStore, id EventID, deletionLog *Event, pageSize int) PageStore {
	position, found := store.FindByIdentity(id)
	next := ApplyDelete(store, id)
	if !found || deletionLog == nil || pageSize <= 0 {
		return next
	}

	lastPage := ceilDiv(store.TotalHits(), pageSize)
	if position.Page != lastPage {
		return next
	}

	if deletionLog.ID == id || deletionLog.ID == "" {
		logRecord := *deletionLog
		logRecord.ID = id
		return ApplyUpdate(next, logRecord)
	}
	if _, duplicate := next.FindByIdentity(deletionLog.ID); duplicate {
		return ApplyUpdate(next, *deletionLog)
	}
	next = next.AppendToLastOrNewPage(*deletionLog, pageSize)
	return next.SetTotalHits(IncreaseTotal(1))
}

func mergeEvent(stored Event, update Event) Event {
	merged := stored
	if update.Type != "" {
		merged.Type = update.Type
	}
	if !update.Payload.IsZero() {
		merged.Payload = update.Payload
	}
	if !update.CreatedBy.IsZero() {
		merged.CreatedBy = update.CreatedBy
	}
	if !update.Created.IsZero() {
		merged.Created = update.Created
	}
	if update.RevisionID != 0 {
		merged.RevisionID = update.RevisionID
	}
	if update.Permissions != nil {
		permissions := *update.Permissions
		merged.Permissions = &permissions
	}
	if update.Expanded != nil {
		expanded := *update.Expanded
		merged.Expanded = &expanded
	}
	if update.ParentID != "" {
		merged.ParentID = update.ParentID
	}
	if update.Links != (Links{}) {
		merged.Links = update.Links
	}
	return merged
}
