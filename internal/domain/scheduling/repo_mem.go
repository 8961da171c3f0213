package scheduling

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// In-memory repository implementations, used by tests and by the server
// when no database is configured. Durability is process-lifetime only.

// MemSlotRepo is an in-memory SlotRepository.
type MemSlotRepo struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*Slot
}

// NewMemSlotRepo returns an empty in-memory slot repository.
func NewMemSlotRepo() *MemSlotRepo {
	return &MemSlotRepo{slots: make(map[uuid.UUID]*Slot)}
}

func (r *MemSlotRepo) LoadSlots(ctx context.Context) ([]*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Slot, 0, len(r.slots))
	for _, s := range r.slots {
		cp := *s
		out = append(out, &cp)
	}
	sortSlots(out)
	return out, nil
}

func (r *MemSlotRepo) SaveSlots(ctx context.Context, slots []*Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slots {
		cp := *s
		r.slots[s.ID] = &cp
	}
	return nil
}

func (r *MemSlotRepo) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slots, id)
	return nil
}

func (r *MemSlotRepo) DeleteSlotsByDate(ctx context.Context, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		if s.Date == date {
			delete(r.slots, id)
		}
	}
	return nil
}

func (r *MemSlotRepo) DeleteSlotsInRange(ctx context.Context, start, end string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.slots {
		if s.Date >= start && s.Date <= end {
			delete(r.slots, id)
		}
	}
	return nil
}

// MemTypeRepo is an in-memory TypeRepository.
type MemTypeRepo struct {
	mu    sync.Mutex
	types map[uuid.UUID]*AvailabilityType
}

// NewMemTypeRepo returns an empty in-memory type repository.
func NewMemTypeRepo() *MemTypeRepo {
	return &MemTypeRepo{types: make(map[uuid.UUID]*AvailabilityType)}
}

func (r *MemTypeRepo) LoadTypes(ctx context.Context) ([]*AvailabilityType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*AvailabilityType, 0, len(r.types))
	for _, t := range r.types {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemTypeRepo) SaveType(ctx context.Context, t *AvailabilityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.types[t.ID] = &cp
	return nil
}

func (r *MemTypeRepo) DeleteType(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, id)
	return nil
}

// MemAppointmentRepo is an in-memory AppointmentRepository.
type MemAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

// NewMemAppointmentRepo returns an empty in-memory appointment repository.
func NewMemAppointmentRepo() *MemAppointmentRepo {
	return &MemAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (r *MemAppointmentRepo) LoadAppointments(ctx context.Context) ([]*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Appointment, 0, len(r.appts))
	for _, a := range r.appts {
		out = append(out, a.Clone())
	}
	sortAppointments(out)
	return out, nil
}

func (r *MemAppointmentRepo) SaveAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = a.Clone()
	return nil
}

func (r *MemAppointmentRepo) SaveAppointments(ctx context.Context, appts []*Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range appts {
		r.appts[a.ID] = a.Clone()
	}
	return nil
}

func (r *MemAppointmentRepo) DeleteAppointment(ctx context.Context, id uuid.UUID, preservePayments bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !preservePayments {
		if a, ok := r.appts[id]; ok {
			a.PaidAmount = nil
			a.PackageID = nil
		}
	}
	delete(r.appts, id)
	return nil
}
