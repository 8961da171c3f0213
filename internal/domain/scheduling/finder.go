package scheduling

import "github.com/google/uuid"

// relocationHorizonDays bounds how far ahead the finder scans when looking
// for a free slot.
const relocationHorizonDays = 30

// SlotKey is a calendar position found by the finder.
type SlotKey struct {
	Date string
	Time string
}

// Finder locates the earliest free slot from a starting date, used by the
// resolver to relocate displaced pending appointments.
type Finder struct {
	catalog *Catalog
	ledger  *Ledger
}

// NewFinder wires a finder over the given stores.
func NewFinder(catalog *Catalog, ledger *Ledger) *Finder {
	return &Finder{catalog: catalog, ledger: ledger}
}

// Find scans days from..from+29, each day's slots in ascending time order,
// and returns the first key that is neither occupied nor held by a confirmed
// appointment. ok is false when the horizon is exhausted.
func (f *Finder) Find(from string) (SlotKey, bool) {
	return f.FindExcluding(from, nil)
}

// FindExcluding is Find with an extra set of keys to treat as unavailable.
// The resolver passes the keys it has already handed out in the current
// pass, so two displaced appointments never land on the same slot.
func (f *Finder) FindExcluding(from string, taken map[SlotKey]bool) (SlotKey, bool) {
	start, err := ParseDate(from)
	if err != nil {
		return SlotKey{}, false
	}
	for offset := 0; offset < relocationHorizonDays; offset++ {
		date := FormatDate(start.AddDate(0, 0, offset))
		for _, s := range f.catalog.SlotsOn(date) {
			key := SlotKey{Date: s.Date, Time: s.Time}
			if taken[key] {
				continue
			}
			if f.catalog.IsOccupied(s.Date, s.Time) {
				continue
			}
			if f.ledger.HasConfirmedAt(s.Date, s.Time, uuid.Nil) {
				continue
			}
			return key, true
		}
	}
	return SlotKey{}, false
}
