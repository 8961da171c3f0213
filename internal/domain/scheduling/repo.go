package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Persistence collaborators. The in-memory stores are the source of truth
// for reads; these repositories mirror mutations to durable storage. The
// service mutates memory first, then calls the repository, and restores the
// pre-mutation snapshot when the call fails.

// SlotRepository persists availability slots.
type SlotRepository interface {
	LoadSlots(ctx context.Context) ([]*Slot, error)
	SaveSlots(ctx context.Context, slots []*Slot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	DeleteSlotsByDate(ctx context.Context, date string) error
	DeleteSlotsInRange(ctx context.Context, start, end string) error
}

// TypeRepository persists availability types.
type TypeRepository interface {
	LoadTypes(ctx context.Context) ([]*AvailabilityType, error)
	SaveType(ctx context.Context, t *AvailabilityType) error
	DeleteType(ctx context.Context, id uuid.UUID) error
}

// AppointmentRepository persists appointments. DeleteAppointment receives
// preservePayments so the storage layer can decide whether to detach or
// drop linked payment rows.
type AppointmentRepository interface {
	LoadAppointments(ctx context.Context) ([]*Appointment, error)
	SaveAppointment(ctx context.Context, a *Appointment) error
	SaveAppointments(ctx context.Context, appts []*Appointment) error
	DeleteAppointment(ctx context.Context, id uuid.UUID, preservePayments bool) error
}
