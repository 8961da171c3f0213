package scheduling

// Resolver handles the side effects of confirming an appointment: the key
// becomes occupied, and every pending appointment stranded at that key is
// either relocated to the next free slot or flagged for manual rebooking.
//
// Flagging is data, not an error. A collider that cannot be relocated never
// blocks the confirmation that displaced it.
type Resolver struct {
	catalog *Catalog
	ledger  *Ledger
	finder  *Finder
}

// NewResolver wires a resolver over the given stores.
func NewResolver(catalog *Catalog, ledger *Ledger, finder *Finder) *Resolver {
	return &Resolver{catalog: catalog, ledger: ledger, finder: finder}
}

// Resolve occupies confirmed's key and relocates or flags every pending
// collider. It returns the mutated colliders, already written back to the
// ledger; callers persist them together with the confirmed appointment so
// the whole transition commits or rolls back as one unit. Every collider
// appears in the result exactly once, and no two colliders are moved to the
// same slot; when the free slots run out the remainder are flagged.
func (r *Resolver) Resolve(confirmed *Appointment) []*Appointment {
	r.catalog.MarkOccupied(confirmed.Date, confirmed.Time)

	var mutated []*Appointment
	taken := map[SlotKey]bool{}
	for _, b := range r.ledger.ListAt(confirmed.Date, confirmed.Time) {
		if b.ID == confirmed.ID || b.Status != StatusPending {
			continue
		}
		if key, ok := r.finder.FindExcluding(b.Date, taken); ok {
			taken[key] = true
			b.Date = key.Date
			b.Time = key.Time
			b.Description = appendMarker(b.Description, MarkerRelocated)
		} else {
			b.Description = appendMarker(b.Description, MarkerNeedsRebook)
		}
		// ledger.Update cannot fail here: b exists and stays pending.
		_ = r.ledger.Update(b)
		mutated = append(mutated, b)
	}
	return mutated
}
