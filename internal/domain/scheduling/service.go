package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change feed tables and operations. The same event shape flows both ways:
// the service publishes after a successful persist, and accepts inbound
// events from out-of-band persistence updates.
const (
	TableSlots        = "slots"
	TableAppointments = "appointments"
	TableTypes        = "availability_types"

	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ChangeEvent describes one record-level mutation.
type ChangeEvent struct {
	Table     string `json:"table"`
	Operation string `json:"operation"`
	Record    any    `json:"record"`
}

// Notifier receives change events after successful persistence. The realtime
// hub implements it; a nil Notifier disables publishing.
type Notifier interface {
	Publish(event ChangeEvent)
}

// PackageCatalog resolves a client package id to its service category. The
// lookup happens once, when an appointment referencing a package is created;
// the resolved category is stored on the appointment.
type PackageCatalog interface {
	Lookup(packageID string) (category string, ok bool)
}

// Service is the scheduling façade: it owns the in-memory stores, mirrors
// every mutation to the persistence repositories, and publishes change
// events. A single mutex serializes mutating operations so a confirm runs
// occupy, detect, relocate and persist as one unit with no interleaving.
//
// Mutations are optimistic: memory first, then storage. A storage failure
// restores the pre-operation snapshots, so callers never observe a half
// applied state.
type Service struct {
	mu sync.Mutex

	catalog  *Catalog
	ledger   *Ledger
	expander *Expander
	finder   *Finder
	resolver *Resolver

	slotRepo SlotRepository
	typeRepo TypeRepository
	apptRepo AppointmentRepository

	notifier Notifier
	packages PackageCatalog

	now func() time.Time
}

// NewService wires a service over fresh stores and the given persistence
// repositories. notifier and packages may be nil.
func NewService(slots SlotRepository, types TypeRepository, appts AppointmentRepository, notifier Notifier, packages PackageCatalog) *Service {
	catalog := NewCatalog()
	ledger := NewLedger()
	finder := NewFinder(catalog, ledger)
	return &Service{
		catalog:  catalog,
		ledger:   ledger,
		expander: NewExpander(catalog, ledger),
		finder:   finder,
		resolver: NewResolver(catalog, ledger, finder),
		slotRepo: slots,
		typeRepo: types,
		apptRepo: appts,
		notifier: notifier,
		packages: packages,
		now:      time.Now,
	}
}

// Load hydrates the in-memory stores from persistence. Called once at
// startup, before the service is exposed.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	types, err := s.typeRepo.LoadTypes(ctx)
	if err != nil {
		return fmt.Errorf("load types: %w", err)
	}
	for _, t := range types {
		s.catalog.AddType(t)
	}

	slots, err := s.slotRepo.LoadSlots(ctx)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}
	for _, sl := range slots {
		s.catalog.AddSlot(sl)
	}

	appts, err := s.apptRepo.LoadAppointments(ctx)
	if err != nil {
		return fmt.Errorf("load appointments: %w", err)
	}
	for _, a := range appts {
		s.ledger.UpsertRecord(a)
		if a.Status == StatusConfirmed {
			s.catalog.MarkOccupied(a.Date, a.Time)
		}
	}
	return nil
}

func (s *Service) publish(table, op string, record any) {
	if s.notifier != nil {
		s.notifier.Publish(ChangeEvent{Table: table, Operation: op, Record: record})
	}
}

// -- Availability types --

// AddType creates an availability type.
func (s *Service) AddType(ctx context.Context, name, color string) (*AvailabilityType, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &AvailabilityType{ID: uuid.New(), Name: name, Color: color}
	s.catalog.AddType(t)
	if err := s.typeRepo.SaveType(ctx, t); err != nil {
		s.catalog.RemoveTypeRecord(t.ID)
		return nil, &PersistenceError{Op: "add type", Err: err}
	}
	s.publish(TableTypes, OpInsert, t)
	return t, nil
}

// UpdateType renames or recolors an existing type. Existing slots keep their
// denormalized label and color.
func (s *Service) UpdateType(ctx context.Context, t *AvailabilityType) error {
	if t.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.catalog.TypeByID(t.ID)
	if err != nil {
		return err
	}
	if err := s.catalog.UpdateType(t); err != nil {
		return err
	}
	if err := s.typeRepo.SaveType(ctx, t); err != nil {
		s.catalog.UpsertTypeRecord(prev)
		return &PersistenceError{Op: "update type", Err: err}
	}
	s.publish(TableTypes, OpUpdate, t)
	return nil
}

// DeleteType removes a type. The last remaining type cannot be deleted.
func (s *Service) DeleteType(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.catalog.TypeByID(id)
	if err != nil {
		return err
	}
	if err := s.catalog.DeleteType(id); err != nil {
		return err
	}
	if err := s.typeRepo.DeleteType(ctx, id); err != nil {
		s.catalog.UpsertTypeRecord(prev)
		return &PersistenceError{Op: "delete type", Err: err}
	}
	s.publish(TableTypes, OpDelete, prev)
	return nil
}

// ListTypes returns all availability types.
func (s *Service) ListTypes() []*AvailabilityType {
	return s.catalog.ListTypes()
}

// -- Slots --

// ExpandAndCreateSlots generates slots over a date range crossed with daily
// times and persists the batch atomically.
func (s *Service) ExpandAndCreateSlots(ctx context.Context, req ExpandRequest) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.catalog.Snapshot()
	res, err := s.expander.Generate(req)
	if err != nil {
		s.catalog.Restore(snap)
		return Report{}, err
	}
	for _, id := range res.Replaced {
		if err := s.slotRepo.DeleteSlot(ctx, id); err != nil {
			s.catalog.Restore(snap)
			return Report{}, &PersistenceError{Op: "expand slots", Err: err}
		}
	}
	if err := s.slotRepo.SaveSlots(ctx, res.Created); err != nil {
		s.catalog.Restore(snap)
		return Report{}, &PersistenceError{Op: "expand slots", Err: err}
	}
	for _, id := range res.Replaced {
		s.publish(TableSlots, OpDelete, &Slot{ID: id})
	}
	for _, sl := range res.Created {
		s.publish(TableSlots, OpInsert, sl)
	}
	return res.Report, nil
}

// DeleteSlot removes one slot by id.
func (s *Service) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.catalog.Snapshot()
	if err := s.catalog.DeleteSlot(id); err != nil {
		return err
	}
	if err := s.slotRepo.DeleteSlot(ctx, id); err != nil {
		s.catalog.Restore(snap)
		return &PersistenceError{Op: "delete slot", Err: err}
	}
	s.publish(TableSlots, OpDelete, &Slot{ID: id})
	return nil
}

// ClearSlotsForDate removes every slot on one date and returns how many were
// removed.
func (s *Service) ClearSlotsForDate(ctx context.Context, date string) (int, error) {
	if _, err := ParseDate(date); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.catalog.Snapshot()
	removed := s.catalog.ClearSlotsForDate(date)
	if err := s.slotRepo.DeleteSlotsByDate(ctx, date); err != nil {
		s.catalog.Restore(snap)
		return 0, &PersistenceError{Op: "clear slots", Err: err}
	}
	for _, sl := range removed {
		s.publish(TableSlots, OpDelete, sl)
	}
	return len(removed), nil
}

// DeleteSlotsInRange removes every slot between start and end inclusive and
// returns how many were removed.
func (s *Service) DeleteSlotsInRange(ctx context.Context, start, end string) (int, error) {
	from, err := ParseDate(start)
	if err != nil {
		return 0, err
	}
	to, err := ParseDate(end)
	if err != nil {
		return 0, err
	}
	if from.After(to) {
		return 0, &ValidationError{Field: "date range", Reason: "start date is after end date"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.catalog.Snapshot()
	removed := s.catalog.DeleteSlotsInRange(from, to)
	if err := s.slotRepo.DeleteSlotsInRange(ctx, start, end); err != nil {
		s.catalog.Restore(snap)
		return 0, &PersistenceError{Op: "delete slot range", Err: err}
	}
	for _, sl := range removed {
		s.publish(TableSlots, OpDelete, sl)
	}
	return len(removed), nil
}

// ListSlots returns slots, optionally filtered to one date or a range.
func (s *Service) ListSlots(date, from, to string) []*Slot {
	if date != "" {
		return s.catalog.SlotsOn(date)
	}
	all := s.catalog.ListSlots()
	if from == "" && to == "" {
		return all
	}
	var out []*Slot
	for _, sl := range all {
		if from != "" && sl.Date < from {
			continue
		}
		if to != "" && sl.Date > to {
			continue
		}
		out = append(out, sl)
	}
	return out
}

// NextFreeSlot returns the earliest free slot on or after the given date.
func (s *Service) NextFreeSlot(from string) (SlotKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finder.Find(from)
}

// -- Appointments --

// CreateAppointmentInput is the payload to CreateAppointment. When PackageID
// is set and a package catalog is configured, Type is overridden by the
// package's category.
type CreateAppointmentInput struct {
	SessionID        *string  `json:"session_id,omitempty"`
	Date             string   `json:"date"`
	Time             string   `json:"time"`
	Title            string   `json:"title"`
	Type             string   `json:"type"`
	Client           string   `json:"client"`
	Status           string   `json:"status"`
	Description      string   `json:"description,omitempty"`
	PackageID        *string  `json:"package_id,omitempty"`
	PaidAmount       *float64 `json:"paid_amount,omitempty"`
	ProductsIncluded []string `json:"products_included,omitempty"`
}

// CreateAppointment books an appointment. Creating directly in confirmed
// status runs the same exclusivity check and conflict resolution as a
// pending to confirmed update.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*Appointment, error) {
	if _, err := ParseDate(in.Date); err != nil {
		return nil, err
	}
	if _, ok := ClockMinutes(in.Time); !ok {
		return nil, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid time %q, want HH:mm", in.Time)}
	}
	if in.Client == "" {
		return nil, &ValidationError{Field: "client", Reason: "must not be empty"}
	}
	status := AppointmentStatus(in.Status)
	if in.Status == "" {
		status = StatusPending
	}
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", in.Status)}
	}

	a := &Appointment{
		ID:               uuid.New(),
		SessionID:        in.SessionID,
		Date:             in.Date,
		Time:             in.Time,
		Title:            in.Title,
		Type:             in.Type,
		Client:           in.Client,
		Status:           status,
		Description:      in.Description,
		PackageID:        in.PackageID,
		PaidAmount:       in.PaidAmount,
		ProductsIncluded: in.ProductsIncluded,
	}
	if in.PackageID != nil && s.packages != nil {
		if category, ok := s.packages.Lookup(*in.PackageID); ok {
			a.Type = category
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	catSnap := s.catalog.Snapshot()
	ledSnap := s.ledger.Snapshot()

	if err := s.ledger.Create(a); err != nil {
		return nil, err
	}
	batch := []*Appointment{a}
	if a.Status == StatusConfirmed {
		batch = append(batch, s.resolver.Resolve(a)...)
	}
	if err := s.apptRepo.SaveAppointments(ctx, batch); err != nil {
		s.catalog.Restore(catSnap)
		s.ledger.Restore(ledSnap)
		return nil, &PersistenceError{Op: "create appointment", Err: err}
	}
	s.publish(TableAppointments, OpInsert, a)
	for _, b := range batch[1:] {
		s.publish(TableAppointments, OpUpdate, b)
	}
	return a.Clone(), nil
}

// AppointmentPatch is a partial appointment update. Nil fields are left
// unchanged.
type AppointmentPatch struct {
	SessionID        *string   `json:"session_id,omitempty"`
	Date             *string   `json:"date,omitempty"`
	Time             *string   `json:"time,omitempty"`
	Title            *string   `json:"title,omitempty"`
	Type             *string   `json:"type,omitempty"`
	Client           *string   `json:"client,omitempty"`
	Status           *string   `json:"status,omitempty"`
	Description      *string   `json:"description,omitempty"`
	PaidAmount       *float64  `json:"paid_amount,omitempty"`
	ProductsIncluded *[]string `json:"products_included,omitempty"`
}

// UpdateAppointment applies a patch. A pending to confirmed transition runs
// conflict resolution before returning, so the caller never observes a
// confirmed appointment with unresolved collisions. Confirmed to pending is
// rejected; there is no automated reversal.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.ledger.Get(id)
	if err != nil {
		return nil, err
	}

	updated := current.Clone()
	if patch.SessionID != nil {
		updated.SessionID = patch.SessionID
	}
	if patch.Date != nil {
		if _, err := ParseDate(*patch.Date); err != nil {
			return nil, err
		}
		updated.Date = *patch.Date
	}
	if patch.Time != nil {
		if _, ok := ClockMinutes(*patch.Time); !ok {
			return nil, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid time %q, want HH:mm", *patch.Time)}
		}
		updated.Time = *patch.Time
	}
	if patch.Title != nil {
		updated.Title = *patch.Title
	}
	if patch.Type != nil {
		updated.Type = *patch.Type
	}
	if patch.Client != nil {
		if *patch.Client == "" {
			return nil, &ValidationError{Field: "client", Reason: "must not be empty"}
		}
		updated.Client = *patch.Client
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.PaidAmount != nil {
		updated.PaidAmount = patch.PaidAmount
	}
	if patch.ProductsIncluded != nil {
		updated.ProductsIncluded = *patch.ProductsIncluded
	}
	if patch.Status != nil {
		next := AppointmentStatus(*patch.Status)
		if !next.Valid() {
			return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *patch.Status)}
		}
		if current.Status == StatusConfirmed && next == StatusPending {
			return nil, ErrStatusTransition
		}
		updated.Status = next
	}

	confirming := current.Status == StatusPending && updated.Status == StatusConfirmed
	moved := updated.Key() != current.Key()

	catSnap := s.catalog.Snapshot()
	ledSnap := s.ledger.Snapshot()

	if err := s.ledger.Update(updated); err != nil {
		return nil, err
	}
	if current.Status == StatusConfirmed && moved {
		s.catalog.ReleaseOccupied(current.Date, current.Time)
	}
	batch := []*Appointment{updated}
	if confirming || (updated.Status == StatusConfirmed && moved) {
		batch = append(batch, s.resolver.Resolve(updated)...)
	}
	if err := s.apptRepo.SaveAppointments(ctx, batch); err != nil {
		s.catalog.Restore(catSnap)
		s.ledger.Restore(ledSnap)
		return nil, &PersistenceError{Op: "update appointment", Err: err}
	}
	for _, b := range batch {
		s.publish(TableAppointments, OpUpdate, b)
	}
	return updated.Clone(), nil
}

// DeleteAppointment removes an appointment. preservePayments keeps linked
// payment records in storage; the in-memory record goes either way.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID, preservePayments bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	catSnap := s.catalog.Snapshot()
	ledSnap := s.ledger.Snapshot()

	removed, err := s.ledger.Delete(id)
	if err != nil {
		return err
	}
	if removed.Status == StatusConfirmed {
		s.catalog.ReleaseOccupied(removed.Date, removed.Time)
	}
	if err := s.apptRepo.DeleteAppointment(ctx, id, preservePayments); err != nil {
		s.catalog.Restore(catSnap)
		s.ledger.Restore(ledSnap)
		return &PersistenceError{Op: "delete appointment", Err: err}
	}
	s.publish(TableAppointments, OpDelete, removed)
	return nil
}

// GetAppointment returns one appointment by id.
func (s *Service) GetAppointment(id uuid.UUID) (*Appointment, error) {
	return s.ledger.Get(id)
}

// ListAppointments returns appointments, optionally filtered to a (date,
// time) key or a whole date.
func (s *Service) ListAppointments(date, clock string) []*Appointment {
	if date != "" && clock != "" {
		return s.ledger.ListAt(date, clock)
	}
	all := s.ledger.List()
	if date == "" {
		return all
	}
	var out []*Appointment
	for _, a := range all {
		if a.Date == date {
			out = append(out, a)
		}
	}
	return out
}

// ListUpcomingConfirmed returns confirmed appointments from today onward.
func (s *Service) ListUpcomingConfirmed(limit int) []*Appointment {
	return s.ledger.UpcomingConfirmed(FormatDate(s.now()), limit)
}

// Counts reports current store sizes, used for gauges.
func (s *Service) Counts() (slots, appointments int) {
	return s.catalog.SlotCount(), s.ledger.Count()
}

// FlaggedConflicts counts appointments carrying the manual-rebook marker.
func (s *Service) FlaggedConflicts() int {
	n := 0
	for _, a := range s.ledger.List() {
		if strings.Contains(a.Description, MarkerNeedsRebook) {
			n++
		}
	}
	return n
}

// -- Remote change feed --

// ApplyRemoteChange merges an out-of-band persistence update into the
// in-memory stores by record id. Records are upserted or removed one at a
// time; the stores are never wholesale replaced, so an optimistic local
// mutation in flight is not clobbered.
func (s *Service) ApplyRemoteChange(event ChangeEvent) error {
	raw, err := json.Marshal(event.Record)
	if err != nil {
		return fmt.Errorf("remote change: encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Table {
	case TableSlots:
		var sl Slot
		if err := json.Unmarshal(raw, &sl); err != nil {
			return fmt.Errorf("remote change: decode slot: %w", err)
		}
		if event.Operation == OpDelete {
			s.catalog.RemoveSlotRecord(sl.ID)
		} else {
			s.catalog.UpsertSlotRecord(&sl)
		}
	case TableAppointments:
		var a Appointment
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("remote change: decode appointment: %w", err)
		}
		if event.Operation == OpDelete {
			if prev, err := s.ledger.Get(a.ID); err == nil && prev.Status == StatusConfirmed {
				s.catalog.ReleaseOccupied(prev.Date, prev.Time)
			}
			s.ledger.RemoveRecord(a.ID)
		} else {
			if prev, err := s.ledger.Get(a.ID); err == nil && prev.Status == StatusConfirmed && prev.Key() != a.Key() {
				s.catalog.ReleaseOccupied(prev.Date, prev.Time)
			}
			s.ledger.UpsertRecord(&a)
			if a.Status == StatusConfirmed {
				s.catalog.MarkOccupied(a.Date, a.Time)
			}
		}
	case TableTypes:
		var t AvailabilityType
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("remote change: decode type: %w", err)
		}
		if event.Operation == OpDelete {
			s.catalog.RemoveTypeRecord(t.ID)
		} else {
			s.catalog.UpsertTypeRecord(&t)
		}
	default:
		return fmt.Errorf("remote change: unknown table %q", event.Table)
	}
	return nil
}
