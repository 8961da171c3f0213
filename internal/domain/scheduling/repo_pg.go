package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenda/agenda/internal/platform/db"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// -- Slot repository --

type slotRepoPG struct {
	pool *pgxpool.Pool
}

// NewSlotRepoPG returns a SlotRepository backed by Postgres.
func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository {
	return &slotRepoPG{pool: pool}
}

func (r *slotRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const slotCols = `id, date, time, duration, type_id, label, color`

func (r *slotRepoPG) LoadSlots(ctx context.Context) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slot ORDER BY date, time`)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	var out []*Slot
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.Date, &s.Time, &s.Duration, &s.TypeID, &s.Label, &s.Color); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// SaveSlots writes a batch inside one transaction so a generation run
// commits fully or not at all.
func (r *slotRepoPG) SaveSlots(ctx context.Context, slots []*Slot) error {
	if len(slots) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save slots: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, s := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO slot (`+slotCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				date = EXCLUDED.date, time = EXCLUDED.time,
				duration = EXCLUDED.duration, type_id = EXCLUDED.type_id,
				label = EXCLUDED.label, color = EXCLUDED.color`,
			s.ID, s.Date, s.Time, s.Duration, s.TypeID, s.Label, s.Color,
		)
		if err != nil {
			return fmt.Errorf("save slot %s: %w", s.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *slotRepoPG) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM slot WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

func (r *slotRepoPG) DeleteSlotsByDate(ctx context.Context, date string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM slot WHERE date = $1`, date)
	if err != nil {
		return fmt.Errorf("delete slots by date: %w", err)
	}
	return nil
}

func (r *slotRepoPG) DeleteSlotsInRange(ctx context.Context, start, end string) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM slot WHERE date >= $1 AND date <= $2`, start, end)
	if err != nil {
		return fmt.Errorf("delete slots in range: %w", err)
	}
	return nil
}

// -- Type repository --

type typeRepoPG struct {
	pool *pgxpool.Pool
}

// NewTypeRepoPG returns a TypeRepository backed by Postgres.
func NewTypeRepoPG(pool *pgxpool.Pool) TypeRepository {
	return &typeRepoPG{pool: pool}
}

func (r *typeRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *typeRepoPG) LoadTypes(ctx context.Context) ([]*AvailabilityType, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, color FROM availability_type ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load types: %w", err)
	}
	defer rows.Close()

	var out []*AvailabilityType
	for rows.Next() {
		var t AvailabilityType
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, fmt.Errorf("scan type: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *typeRepoPG) SaveType(ctx context.Context, t *AvailabilityType) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_type (id, name, color)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, color = EXCLUDED.color`,
		t.ID, t.Name, t.Color,
	)
	if err != nil {
		return fmt.Errorf("save type: %w", err)
	}
	return nil
}

func (r *typeRepoPG) DeleteType(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_type WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete type: %w", err)
	}
	return nil
}

// -- Appointment repository --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

// NewAppointmentRepoPG returns an AppointmentRepository backed by Postgres.
func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const appointmentCols = `id, session_id, date, time, title, type, client, status, description,
	package_id, paid_amount, products_included`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.SessionID, &a.Date, &a.Time, &a.Title, &a.Type, &a.Client,
		&a.Status, &a.Description, &a.PackageID, &a.PaidAmount, &a.ProductsIncluded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	return &a, nil
}

func (r *appointmentRepoPG) LoadAppointments(ctx context.Context) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+appointmentCols+` FROM appointment ORDER BY date, time`)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *appointmentRepoPG) SaveAppointment(ctx context.Context, a *Appointment) error {
	return saveAppointment(ctx, r.conn(ctx), a)
}

// SaveAppointments writes a confirm-and-resolve batch inside one transaction
// so a relocation never commits without its confirmation.
func (r *appointmentRepoPG) SaveAppointments(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save appointments: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, a := range appts {
		if err := saveAppointment(ctx, tx, a); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func saveAppointment(ctx context.Context, q querier, a *Appointment) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointment (`+appointmentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			session_id = EXCLUDED.session_id, date = EXCLUDED.date, time = EXCLUDED.time,
			title = EXCLUDED.title, type = EXCLUDED.type, client = EXCLUDED.client,
			status = EXCLUDED.status, description = EXCLUDED.description,
			package_id = EXCLUDED.package_id, paid_amount = EXCLUDED.paid_amount,
			products_included = EXCLUDED.products_included`,
		a.ID, a.SessionID, a.Date, a.Time, a.Title, a.Type, a.Client, a.Status, a.Description,
		a.PackageID, a.PaidAmount, a.ProductsIncluded,
	)
	if err != nil {
		return fmt.Errorf("save appointment %s: %w", a.ID, err)
	}
	return nil
}

func (r *appointmentRepoPG) DeleteAppointment(ctx context.Context, id uuid.UUID, preservePayments bool) error {
	if !preservePayments {
		// Detach any payment linkage before the row disappears so a later
		// audit does not resolve a dangling package reference.
		_, err := r.conn(ctx).Exec(ctx,
			`UPDATE appointment SET package_id = NULL, paid_amount = NULL WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("clear appointment payments: %w", err)
		}
	}
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	return nil
}
