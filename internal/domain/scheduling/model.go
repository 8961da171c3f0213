package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Date layout used everywhere in the scheduling domain. Dates and times are
// kept as strings because the (date, time) pair is the atomic slot key; the
// business runs in a single implicit timezone.
const dateLayout = "2006-01-02"

// AvailabilityType is a labeled category of offered time, e.g. "in-studio"
// or "on-location". The catalog must always contain at least one type.
type AvailabilityType struct {
	ID    uuid.UUID `json:"id" db:"id"`
	Name  string    `json:"name" db:"name"`
	Color string    `json:"color" db:"color"`
}

// Slot is an offerable, not-yet-booked time unit. Label and Color are
// denormalized copies of the referenced type at creation time so the display
// stays stable if the type is later edited.
type Slot struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Date     string    `json:"date" db:"date"`
	Time     string    `json:"time" db:"time"`
	Duration int       `json:"duration" db:"duration"`
	TypeID   uuid.UUID `json:"type_id" db:"type_id"`
	Label    string    `json:"label" db:"label"`
	Color    string    `json:"color" db:"color"`
}

// Key returns the (date, time) pair that identifies the calendar position of
// the slot. No two live slots share a key.
func (s *Slot) Key() string { return slotKey(s.Date, s.Time) }

func slotKey(date, clock string) string { return date + "T" + clock }

// AppointmentStatus is the booking lifecycle state. The automated path only
// ever moves pending -> confirmed; there is no automated reversal.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
)

// Valid reports whether the status is one of the defined states.
func (s AppointmentStatus) Valid() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Audit markers appended to an appointment's description by the conflict
// resolver. They are appended, never overwritten, so earlier notes survive.
const (
	MarkerRelocated   = "(Reagendado automaticamente)"
	MarkerNeedsRebook = "(ATENÇÃO: Precisa reagendar - conflito)"
)

// Appointment is a booking request or confirmation tied to a client at a
// specific (date, time). At most one confirmed appointment may exist per
// (date, time); multiple pending appointments may share a key transiently
// until one of them is confirmed.
type Appointment struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	SessionID        *string           `json:"session_id,omitempty" db:"session_id"`
	Date             string            `json:"date" db:"date"`
	Time             string            `json:"time" db:"time"`
	Title            string            `json:"title" db:"title"`
	Type             string            `json:"type" db:"type"`
	Client           string            `json:"client" db:"client"`
	Status           AppointmentStatus `json:"status" db:"status"`
	Description      string            `json:"description,omitempty" db:"description"`
	PackageID        *string           `json:"package_id,omitempty" db:"package_id"`
	PaidAmount       *float64          `json:"paid_amount,omitempty" db:"paid_amount"`
	ProductsIncluded []string          `json:"products_included" db:"products_included"`
}

// Key returns the (date, time) calendar key of the appointment.
func (a *Appointment) Key() string { return slotKey(a.Date, a.Time) }

// Clone returns a deep copy; stores hand out clones so callers never alias
// internal state.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	if a.SessionID != nil {
		v := *a.SessionID
		cp.SessionID = &v
	}
	if a.PackageID != nil {
		v := *a.PackageID
		cp.PackageID = &v
	}
	if a.PaidAmount != nil {
		v := *a.PaidAmount
		cp.PaidAmount = &v
	}
	if a.ProductsIncluded != nil {
		cp.ProductsIncluded = append([]string(nil), a.ProductsIncluded...)
	}
	return &cp
}

// appendMarker adds an audit marker to a description, preserving whatever
// text is already there.
func appendMarker(description, marker string) string {
	if description == "" {
		return marker
	}
	return description + " " + marker
}

// ClockMinutes parses a strict 24-hour "HH:mm" string and returns minutes
// since midnight. ok is false for anything malformed ("9:00", "24:00",
// "12:60", trailing garbage).
func ClockMinutes(clock string) (int, bool) {
	if len(clock) != 5 || clock[2] != ':' {
		return 0, false
	}
	for _, i := range []int{0, 1, 3, 4} {
		if clock[i] < '0' || clock[i] > '9' {
			return 0, false
		}
	}
	h := int(clock[0]-'0')*10 + int(clock[1]-'0')
	m := int(clock[3]-'0')*10 + int(clock[4]-'0')
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ParseDate parses a calendar date in ISO "YYYY-MM-DD" form.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", date)}
	}
	return t, nil
}

// FormatDate renders a time as an ISO "YYYY-MM-DD" calendar date.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

// normalizeTimes validates, deduplicates and sorts a list of "HH:mm" strings
// ascending by minutes since midnight. Invalid entries are discarded, not
// reported; the expander offers whatever valid times remain.
func normalizeTimes(times []string) []string {
	seen := make(map[string]struct{}, len(times))
	var out []string
	for _, t := range times {
		if _, ok := ClockMinutes(t); !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := ClockMinutes(out[i])
		b, _ := ClockMinutes(out[j])
		return a < b
	})
	return out
}
