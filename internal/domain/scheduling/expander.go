package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// ExpandRequest describes a bulk slot generation over a date range crossed
// with a set of daily times. Weekdays filters the range (time.Weekday
// values, 0 = Sunday); an empty set keeps every day.
type ExpandRequest struct {
	StartDate     string
	EndDate       string
	Weekdays      []int
	Times         []string
	Duration      int
	TypeID        uuid.UUID
	ClearExisting bool
}

// Report tallies the outcome of one expansion. Created + Conflicts +
// Duplicates never exceeds len(dates) * len(valid times).
type Report struct {
	Created    int `json:"created"`
	Conflicts  int `json:"conflicts"`
	Duplicates int `json:"duplicates"`
}

// ExpandResult carries the in-memory outcome of one expansion so the caller
// can mirror it to persistence: new slots to save and, when ClearExisting
// was set, the ids of slots the batch displaced.
type ExpandResult struct {
	Created  []*Slot
	Replaced []uuid.UUID
	Report   Report
}

// Expander generates slots over the cartesian product of dates and times,
// skipping keys held by confirmed appointments and keys already taken.
type Expander struct {
	catalog *Catalog
	ledger  *Ledger
}

// NewExpander wires an expander over the given stores.
func NewExpander(catalog *Catalog, ledger *Ledger) *Expander {
	return &Expander{catalog: catalog, ledger: ledger}
}

// Generate expands the request into slots, mutating the catalog, and returns
// the outcome. For each (date, time) pair: a confirmed appointment at the
// key counts as a conflict and is never overwritten; with ClearExisting an
// open slot at the key is replaced, otherwise it counts as a duplicate.
// Invalid time strings are discarded up front, not reported.
func (e *Expander) Generate(req ExpandRequest) (*ExpandResult, error) {
	start, err := ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, &ValidationError{Field: "date range", Reason: "start date is after end date"}
	}

	times := normalizeTimes(req.Times)
	if len(times) == 0 {
		return nil, &ValidationError{Field: "times", Reason: "no valid HH:mm times given"}
	}

	availType, err := e.catalog.TypeByID(req.TypeID)
	if err != nil {
		return nil, &ValidationError{Field: "type_id", Reason: "unknown availability type"}
	}

	wanted := make(map[time.Weekday]struct{}, len(req.Weekdays))
	for _, d := range req.Weekdays {
		if d >= 0 && d <= 6 {
			wanted[time.Weekday(d)] = struct{}{}
		}
	}

	res := &ExpandResult{}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if len(wanted) > 0 {
			if _, ok := wanted[day.Weekday()]; !ok {
				continue
			}
		}
		date := FormatDate(day)
		for _, clock := range times {
			if e.ledger.HasConfirmedAt(date, clock, uuid.Nil) || e.catalog.IsOccupied(date, clock) {
				res.Report.Conflicts++
				continue
			}
			if existing := e.catalog.SlotAt(date, clock); existing != nil {
				if !req.ClearExisting {
					res.Report.Duplicates++
					continue
				}
				e.catalog.DeleteSlotAt(date, clock)
				res.Replaced = append(res.Replaced, existing.ID)
			}
			s := &Slot{
				ID:       uuid.New(),
				Date:     date,
				Time:     clock,
				Duration: req.Duration,
				TypeID:   availType.ID,
				Label:    availType.Name,
				Color:    availType.Color,
			}
			// AddSlot also guards against a same-batch repeat; normalizeTimes
			// deduplicated times, so this only fires on catalog races.
			if !e.catalog.AddSlot(s) {
				res.Report.Duplicates++
				continue
			}
			res.Created = append(res.Created, s)
			res.Report.Created++
		}
	}
	return res, nil
}
