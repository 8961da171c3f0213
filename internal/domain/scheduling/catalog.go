package scheduling

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Catalog is the in-memory availability store: the offered types and the
// open slots, indexed by id and by (date, time) key. It is safe for
// concurrent use; the service layer additionally serializes mutations so a
// confirm-and-resolve sequence reads a stable view.
//
// Occupation is logical: confirming an appointment marks the key occupied
// but keeps the slot record, so listings can still show the original offer
// while searches and new bookings skip it.
type Catalog struct {
	mu       sync.RWMutex
	types    map[uuid.UUID]*AvailabilityType
	slots    map[uuid.UUID]*Slot
	byKey    map[string]uuid.UUID
	occupied map[string]struct{}
}

// NewCatalog returns an empty catalog. Callers inject the instance wherever
// it is needed; nothing in this package holds package-level state.
func NewCatalog() *Catalog {
	return &Catalog{
		types:    make(map[uuid.UUID]*AvailabilityType),
		slots:    make(map[uuid.UUID]*Slot),
		byKey:    make(map[string]uuid.UUID),
		occupied: make(map[string]struct{}),
	}
}

// AddType registers an availability type.
func (c *Catalog) AddType(t *AvailabilityType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *t
	c.types[t.ID] = &cp
}

// UpdateType replaces an existing type in place. Slots created earlier keep
// their denormalized label and color.
func (c *Catalog) UpdateType(t *AvailabilityType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.types[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	c.types[t.ID] = &cp
	return nil
}

// DeleteType removes a type. The catalog must never become typeless, so
// deleting the final remaining type fails with ErrLastType.
func (c *Catalog) DeleteType(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.types[id]; !ok {
		return ErrNotFound
	}
	if len(c.types) == 1 {
		return ErrLastType
	}
	delete(c.types, id)
	return nil
}

// TypeByID returns a copy of the type, or ErrNotFound.
func (c *Catalog) TypeByID(id uuid.UUID) (*AvailabilityType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTypes returns all types sorted by name.
func (c *Catalog) ListTypes() []*AvailabilityType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*AvailabilityType, 0, len(c.types))
	for _, t := range c.types {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TypeCount reports how many types are registered.
func (c *Catalog) TypeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// AddSlot inserts a slot unless its (date, time) key is already taken.
// A duplicate is reported as false, not as an error; batch generation counts
// skips instead of aborting.
func (c *Catalog) AddSlot(s *Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := s.Key()
	if _, taken := c.byKey[key]; taken {
		return false
	}
	cp := *s
	c.slots[s.ID] = &cp
	c.byKey[key] = s.ID
	return true
}

// DeleteSlot removes a slot by id.
func (c *Catalog) DeleteSlot(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[id]
	if !ok {
		return ErrNotFound
	}
	delete(c.slots, id)
	delete(c.byKey, s.Key())
	return nil
}

// DeleteSlotAt removes whatever slot holds the (date, time) key. It reports
// whether a slot was removed.
func (c *Catalog) DeleteSlotAt(date, clock string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteSlotKeyLocked(slotKey(date, clock))
}

func (c *Catalog) deleteSlotKeyLocked(key string) bool {
	id, ok := c.byKey[key]
	if !ok {
		return false
	}
	delete(c.slots, id)
	delete(c.byKey, key)
	return true
}

// ClearSlotsForDate removes every slot on the given date and returns the
// removed slots.
func (c *Catalog) ClearSlotsForDate(date string) []*Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []*Slot
	for id, s := range c.slots {
		if s.Date != date {
			continue
		}
		cp := *s
		removed = append(removed, &cp)
		delete(c.slots, id)
		delete(c.byKey, s.Key())
	}
	sortSlots(removed)
	return removed
}

// DeleteSlotsInRange removes every slot whose date falls in [start, end]
// inclusive and returns the removed slots.
func (c *Catalog) DeleteSlotsInRange(start, end time.Time) []*Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []*Slot
	for id, s := range c.slots {
		d, err := time.Parse(dateLayout, s.Date)
		if err != nil {
			continue
		}
		if d.Before(start) || d.After(end) {
			continue
		}
		cp := *s
		removed = append(removed, &cp)
		delete(c.slots, id)
		delete(c.byKey, s.Key())
	}
	sortSlots(removed)
	return removed
}

// SlotAt returns a copy of the slot at (date, time), or nil.
func (c *Catalog) SlotAt(date, clock string) *Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byKey[slotKey(date, clock)]
	if !ok {
		return nil
	}
	cp := *c.slots[id]
	return &cp
}

// HasSlotAt reports whether a slot exists at the (date, time) key.
func (c *Catalog) HasSlotAt(date, clock string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byKey[slotKey(date, clock)]
	return ok
}

// SlotsOn returns the slots of one date in ascending time order.
func (c *Catalog) SlotsOn(date string) []*Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Slot
	for _, s := range c.slots {
		if s.Date == date {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortSlots(out)
	return out
}

// ListSlots returns all slots ordered by date then time.
func (c *Catalog) ListSlots() []*Slot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Slot, 0, len(c.slots))
	for _, s := range c.slots {
		cp := *s
		out = append(out, &cp)
	}
	sortSlots(out)
	return out
}

// SlotCount reports how many slots are stored.
func (c *Catalog) SlotCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// MarkOccupied records that a confirmed appointment now holds the key.
// The slot record, if any, stays in the catalog.
func (c *Catalog) MarkOccupied(date, clock string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.occupied[slotKey(date, clock)] = struct{}{}
}

// ReleaseOccupied clears the occupation mark, e.g. when the confirmed
// appointment holding the key is deleted or moved.
func (c *Catalog) ReleaseOccupied(date, clock string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.occupied, slotKey(date, clock))
}

// IsOccupied reports whether the key is held by a confirmed appointment.
func (c *Catalog) IsOccupied(date, clock string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.occupied[slotKey(date, clock)]
	return ok
}

// catalogSnapshot captures full catalog state for optimistic rollback.
type catalogSnapshot struct {
	types    map[uuid.UUID]*AvailabilityType
	slots    map[uuid.UUID]*Slot
	byKey    map[string]uuid.UUID
	occupied map[string]struct{}
}

// Snapshot copies the catalog state. The copy is detached; later mutations
// do not leak into it.
func (c *Catalog) Snapshot() *catalogSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := &catalogSnapshot{
		types:    make(map[uuid.UUID]*AvailabilityType, len(c.types)),
		slots:    make(map[uuid.UUID]*Slot, len(c.slots)),
		byKey:    make(map[string]uuid.UUID, len(c.byKey)),
		occupied: make(map[string]struct{}, len(c.occupied)),
	}
	for id, t := range c.types {
		cp := *t
		snap.types[id] = &cp
	}
	for id, s := range c.slots {
		cp := *s
		snap.slots[id] = &cp
	}
	for k, id := range c.byKey {
		snap.byKey[k] = id
	}
	for k := range c.occupied {
		snap.occupied[k] = struct{}{}
	}
	return snap
}

// Restore replaces the catalog state with a snapshot taken earlier.
func (c *Catalog) Restore(snap *catalogSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types = make(map[uuid.UUID]*AvailabilityType, len(snap.types))
	c.slots = make(map[uuid.UUID]*Slot, len(snap.slots))
	c.byKey = make(map[string]uuid.UUID, len(snap.byKey))
	c.occupied = make(map[string]struct{}, len(snap.occupied))
	for id, t := range snap.types {
		cp := *t
		c.types[id] = &cp
	}
	for id, s := range snap.slots {
		cp := *s
		c.slots[id] = &cp
	}
	for k, id := range snap.byKey {
		c.byKey[k] = id
	}
	for k := range snap.occupied {
		c.occupied[k] = struct{}{}
	}
}

// UpsertSlotRecord merges an externally persisted slot by id, replacing any
// slot already holding its key. Used by the remote change feed.
func (c *Catalog) UpsertSlotRecord(s *Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.slots[s.ID]; ok {
		delete(c.byKey, old.Key())
	}
	c.deleteSlotKeyLocked(s.Key())
	cp := *s
	c.slots[s.ID] = &cp
	c.byKey[s.Key()] = s.ID
}

// RemoveSlotRecord drops a slot by id without error when absent. Used by the
// remote change feed.
func (c *Catalog) RemoveSlotRecord(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[id]; ok {
		delete(c.byKey, s.Key())
		delete(c.slots, id)
	}
}

// UpsertTypeRecord merges an externally persisted type by id.
func (c *Catalog) UpsertTypeRecord(t *AvailabilityType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *t
	c.types[t.ID] = &cp
}

// RemoveTypeRecord drops a type by id without error when absent.
func (c *Catalog) RemoveTypeRecord(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.types, id)
}

func sortSlots(slots []*Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		a, _ := ClockMinutes(slots[i].Time)
		b, _ := ClockMinutes(slots[j].Time)
		return a < b
	})
}
