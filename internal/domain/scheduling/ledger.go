package scheduling

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Ledger is the in-memory appointment store. It maintains one invariant
// directly: at most one confirmed appointment per (date, time) key. Any
// number of pending appointments may share a key until one of them is
// confirmed; the resolver then relocates or flags the rest.
type Ledger struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]*Appointment
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{appts: make(map[uuid.UUID]*Appointment)}
}

// Create inserts an appointment. A confirmed appointment targeting a key
// already held by another confirmed appointment fails with ErrSlotOccupied.
func (l *Ledger) Create(a *Appointment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a.Status == StatusConfirmed && l.hasConfirmedAtLocked(a.Date, a.Time, a.ID) {
		return ErrSlotOccupied
	}
	l.appts[a.ID] = a.Clone()
	return nil
}

// Get returns a copy of the appointment, or ErrNotFound.
func (l *Ledger) Get(id uuid.UUID) (*Appointment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// Update replaces an existing appointment. The confirmed-exclusivity
// invariant is enforced against every other appointment.
func (l *Ledger) Update(a *Appointment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.appts[a.ID]; !ok {
		return ErrNotFound
	}
	if a.Status == StatusConfirmed && l.hasConfirmedAtLocked(a.Date, a.Time, a.ID) {
		return ErrSlotOccupied
	}
	l.appts[a.ID] = a.Clone()
	return nil
}

// Delete removes an appointment and returns the removed copy. The
// preservePayments flag travels with the persistence call; the ledger itself
// removes the record either way.
func (l *Ledger) Delete(id uuid.UUID) (*Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(l.appts, id)
	return a.Clone(), nil
}

// ListAt returns every appointment at the (date, time) key, pending first,
// then by client name for a stable order.
func (l *Ledger) ListAt(date, clock string) []*Appointment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key := slotKey(date, clock)
	var out []*Appointment
	for _, a := range l.appts {
		if a.Key() == key {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == StatusPending
		}
		return out[i].Client < out[j].Client
	})
	return out
}

// HasConfirmedAt reports whether a confirmed appointment other than
// excluding holds the (date, time) key.
func (l *Ledger) HasConfirmedAt(date, clock string, excluding uuid.UUID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hasConfirmedAtLocked(date, clock, excluding)
}

func (l *Ledger) hasConfirmedAtLocked(date, clock string, excluding uuid.UUID) bool {
	key := slotKey(date, clock)
	for _, a := range l.appts {
		if a.ID != excluding && a.Status == StatusConfirmed && a.Key() == key {
			return true
		}
	}
	return false
}

// UpcomingConfirmed returns confirmed appointments on or after the given
// date, ordered by date then time, truncated to limit (limit <= 0 means no
// truncation).
func (l *Ledger) UpcomingConfirmed(from string, limit int) []*Appointment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Appointment
	for _, a := range l.appts {
		if a.Status == StatusConfirmed && a.Date >= from {
			out = append(out, a.Clone())
		}
	}
	sortAppointments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// List returns every appointment ordered by date then time.
func (l *Ledger) List() []*Appointment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Appointment, 0, len(l.appts))
	for _, a := range l.appts {
		out = append(out, a.Clone())
	}
	sortAppointments(out)
	return out
}

// Count reports how many appointments are stored.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.appts)
}

// Snapshot copies the ledger state for optimistic rollback.
func (l *Ledger) Snapshot() map[uuid.UUID]*Appointment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := make(map[uuid.UUID]*Appointment, len(l.appts))
	for id, a := range l.appts {
		snap[id] = a.Clone()
	}
	return snap
}

// Restore replaces the ledger state with a snapshot taken earlier.
func (l *Ledger) Restore(snap map[uuid.UUID]*Appointment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appts = make(map[uuid.UUID]*Appointment, len(snap))
	for id, a := range snap {
		l.appts[id] = a.Clone()
	}
}

// UpsertRecord merges an externally persisted appointment by id. Used by the
// remote change feed; invariant checks are skipped because the upstream
// store already accepted the record.
func (l *Ledger) UpsertRecord(a *Appointment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appts[a.ID] = a.Clone()
}

// RemoveRecord drops an appointment by id without error when absent.
func (l *Ledger) RemoveRecord(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.appts, id)
}

func sortAppointments(appts []*Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date < appts[j].Date
		}
		a, _ := ClockMinutes(appts[i].Time)
		b, _ := ClockMinutes(appts[j].Time)
		if a != b {
			return a < b
		}
		return appts[i].Client < appts[j].Client
	})
}
