package ledger

// Clone returns a deep copy of the ledger. Stores hand out clones so a
// caller's failed mutation can never leak into shared state.
func (l *Ledger) Clone() *Ledger {
	c := *l
	if l.LastLockAt != nil {
		t := *l.LastLockAt
		c.LastLockAt = &t
	}

	c.Entries = make([]*LockEntry, len(l.Entries))
	for i, e := range l.Entries {
		c.Entries[i] = e.clone()
	}
	return &c
}

func (e *LockEntry) clone() *LockEntry {
	c := *e
	if e.LastClaimAt != nil {
		t := *e.LastClaimAt
		c.LastClaimAt = &t
	}
	if e.Unlock != nil {
		u := *e.Unlock
		if e.Unlock.ApprovedAt != nil {
			t := *e.Unlock.ApprovedAt
			u.ApprovedAt = &t
		}
		if e.Unlock.ApprovedBy != nil {
			id := *e.Unlock.ApprovedBy
			u.ApprovedBy = &id
		}
		c.Unlock = &u
	}
	return &c
}
