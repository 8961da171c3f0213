package scheduling

import "testing"

func TestFinder_EarliestFreeSlot(t *testing.T) {
	catalog := NewCatalog()
	ledger := NewLedger()
	f := NewFinder(catalog, ledger)

	catalog.AddSlot(newSlot("2026-03-12", "14:00"))
	catalog.AddSlot(newSlot("2026-03-12", "09:00"))
	catalog.AddSlot(newSlot("2026-03-10", "16:00"))

	key, ok := f.Find("2026-03-10")
	if !ok {
		t.Fatal("expected a free slot")
	}
	if key.Date != "2026-03-10" || key.Time != "16:00" {
		t.Errorf("expected earliest slot 2026-03-10 16:00, got %s %s", key.Date, key.Time)
	}
}

func TestFinder_SameDayTimeOrder(t *testing.T) {
	catalog := NewCatalog()
	ledger := NewLedger()
	f := NewFinder(catalog, ledger)

	catalog.AddSlot(newSlot("2026-03-10", "14:00"))
	catalog.AddSlot(newSlot("2026-03-10", "09:00"))

	key, ok := f.Find("2026-03-10")
	if !ok || key.Time != "09:00" {
		t.Errorf("expected 09:00 first, got %+v ok=%v", key, ok)
	}
}

func TestFinder_SkipsOccupiedAndConfirmed(t *testing.T) {
	catalog := NewCatalog()
	ledger := NewLedger()
	f := NewFinder(catalog, ledger)

	catalog.AddSlot(newSlot("2026-03-10", "09:00"))
	catalog.AddSlot(newSlot("2026-03-10", "10:00"))
	catalog.AddSlot(newSlot("2026-03-10", "11:00"))

	catalog.MarkOccupied("2026-03-10", "09:00")
	ledger.Create(newAppointment("2026-03-10", "10:00", "Ana", StatusConfirmed))

	key, ok := f.Find("2026-03-10")
	if !ok {
		t.Fatal("expected a free slot")
	}
	if key.Time != "11:00" {
		t.Errorf("expected 11:00, got %s", key.Time)
	}
}

func TestFinder_HorizonExhausted(t *testing.T) {
	catalog := NewCatalog()
	ledger := NewLedger()
	f := NewFinder(catalog, ledger)

	// The only slot lies beyond the search horizon.
	catalog.AddSlot(newSlot("2026-05-01", "09:00"))

	if _, ok := f.Find("2026-03-10"); ok {
		t.Error("slot beyond the horizon should not be found")
	}
	// Searching closer to it succeeds.
	if _, ok := f.Find("2026-04-25"); !ok {
		t.Error("slot within the horizon should be found")
	}
}

func TestFinder_NoSlots(t *testing.T) {
	f := NewFinder(NewCatalog(), NewLedger())
	if _, ok := f.Find("2026-03-10"); ok {
		t.Error("empty catalog should yield no slot")
	}
}

func TestFinder_BadDate(t *testing.T) {
	f := NewFinder(NewCatalog(), NewLedger())
	if _, ok := f.Find("not-a-date"); ok {
		t.Error("invalid date should yield no slot")
	}
}

func TestFinder_FindExcluding(t *testing.T) {
	catalog := NewCatalog()
	ledger := NewLedger()
	f := NewFinder(catalog, ledger)

	catalog.AddSlot(newSlot("2026-03-10", "09:00"))
	catalog.AddSlot(newSlot("2026-03-11", "09:00"))

	taken := map[SlotKey]bool{{Date: "2026-03-10", Time: "09:00"}: true}
	key, ok := f.FindExcluding("2026-03-10", taken)
	if !ok {
		t.Fatal("expected the next slot past the excluded one")
	}
	if key.Date != "2026-03-11" || key.Time != "09:00" {
		t.Errorf("expected 2026-03-11 09:00, got %s %s", key.Date, key.Time)
	}

	taken[key] = true
	if _, ok := f.FindExcluding("2026-03-10", taken); ok {
		t.Error("all slots excluded, expected no result")
	}
}
