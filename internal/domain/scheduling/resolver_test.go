package scheduling

import (
	"strings"
	"testing"
)

func resolverFixture() (*Resolver, *Catalog, *Ledger) {
	catalog := NewCatalog()
	ledger := NewLedger()
	finder := NewFinder(catalog, ledger)
	return NewResolver(catalog, ledger, finder), catalog, ledger
}

func TestResolver_RelocatesPendingCollider(t *testing.T) {
	r, catalog, ledger := resolverFixture()
	catalog.AddSlot(newSlot("2026-03-10", "09:00"))
	catalog.AddSlot(newSlot("2026-03-10", "14:00"))

	confirmed := newAppointment("2026-03-10", "09:00", "Ana", StatusConfirmed)
	collider := newAppointment("2026-03-10", "09:00", "Bia", StatusPending)
	ledger.Create(confirmed)
	ledger.Create(collider)

	mutated := r.Resolve(confirmed)

	if !catalog.IsOccupied("2026-03-10", "09:00") {
		t.Error("confirmed key should be occupied")
	}
	if len(mutated) != 1 {
		t.Fatalf("expected 1 mutated collider, got %d", len(mutated))
	}
	moved := mutated[0]
	if moved.ID != collider.ID {
		t.Errorf("unexpected collider %s", moved.ID)
	}
	if moved.Time != "14:00" {
		t.Errorf("collider should land on the free 14:00 slot, got %s", moved.Time)
	}
	if !strings.Contains(moved.Description, MarkerRelocated) {
		t.Errorf("relocated collider should carry the marker, got %q", moved.Description)
	}

	// The mutation is already in the ledger.
	stored, _ := ledger.Get(collider.ID)
	if stored.Time != "14:00" {
		t.Error("relocation should be written back to the ledger")
	}
}

func TestResolver_FlagsWhenNoSlotFree(t *testing.T) {
	r, _, ledger := resolverFixture()

	confirmed := newAppointment("2026-03-10", "09:00", "Ana", StatusConfirmed)
	collider := newAppointment("2026-03-10", "09:00", "Bia", StatusPending)
	ledger.Create(confirmed)
	ledger.Create(collider)

	mutated := r.Resolve(confirmed)

	if len(mutated) != 1 {
		t.Fatalf("expected 1 mutated collider, got %d", len(mutated))
	}
	flagged := mutated[0]
	if flagged.Date != "2026-03-10" || flagged.Time != "09:00" {
		t.Error("unrelocatable collider should stay at its key")
	}
	if !strings.Contains(flagged.Description, MarkerNeedsRebook) {
		t.Errorf("flagged collider should carry the rebook marker, got %q", flagged.Description)
	}
	if flagged.Status != StatusPending {
		t.Error("flagged collider stays pending")
	}
}

func TestResolver_MarkerAppendsToDescription(t *testing.T) {
	r, _, ledger := resolverFixture()

	confirmed := newAppointment("2026-03-10", "09:00", "Ana", StatusConfirmed)
	collider := newAppointment("2026-03-10", "09:00", "Bia", StatusPending)
	collider.Description = "prefere tarde"
	ledger.Create(confirmed)
	ledger.Create(collider)

	mutated := r.Resolve(confirmed)
	if got := mutated[0].Description; !strings.HasPrefix(got, "prefere tarde ") {
		t.Errorf("existing description should be preserved, got %q", got)
	}
}

func TestResolver_Completeness(t *testing.T) {
	r, catalog, ledger := resolverFixture()
	// Two free slots for three colliders: two relocate, one is flagged.
	catalog.AddSlot(newSlot("2026-03-11", "09:00"))
	catalog.AddSlot(newSlot("2026-03-12", "09:00"))

	confirmed := newAppointment("2026-03-10", "09:00", "Ana", StatusConfirmed)
	ledger.Create(confirmed)
	colliders := []*Appointment{
		newAppointment("2026-03-10", "09:00", "Bia", StatusPending),
		newAppointment("2026-03-10", "09:00", "Carla", StatusPending),
		newAppointment("2026-03-10", "09:00", "Dani", StatusPending),
	}
	for _, c := range colliders {
		ledger.Create(c)
	}

	mutated := r.Resolve(confirmed)

	if len(mutated) != len(colliders) {
		t.Fatalf("every collider must be handled exactly once: got %d, want %d", len(mutated), len(colliders))
	}
	seen := make(map[string]bool)
	relocated, flagged := 0, 0
	for _, m := range mutated {
		if seen[m.ID.String()] {
			t.Fatalf("collider %s handled twice", m.ID)
		}
		seen[m.ID.String()] = true
		switch {
		case strings.Contains(m.Description, MarkerRelocated):
			relocated++
		case strings.Contains(m.Description, MarkerNeedsRebook):
			flagged++
		default:
			t.Errorf("collider %s neither relocated nor flagged", m.ID)
		}
	}
	if relocated != 2 || flagged != 1 {
		t.Errorf("expected 2 relocated / 1 flagged, got %d / %d", relocated, flagged)
	}
}

func TestResolver_RelocationTargetsAreDistinct(t *testing.T) {
	r, catalog, ledger := resolverFixture()
	catalog.AddSlot(newSlot("2026-03-11", "09:00"))
	catalog.AddSlot(newSlot("2026-03-11", "10:00"))
	catalog.AddSlot(newSlot("2026-03-12", "09:00"))

	confirmed := newAppointment("2026-03-10", "09:00", "Ana", StatusConfirmed)
	ledger.Create(confirmed)
	for _, name := range []string{"Bia", "Carla", "Dani"} {
		ledger.Create(newAppointment("2026-03-10", "09:00", name, StatusPending))
	}

	targets := make(map[SlotKey]string)
	for _, m := range r.Resolve(confirmed) {
		if !strings.Contains(m.Description, MarkerRelocated) {
			t.Errorf("collider %s should have been relocated, got %q", m.Client, m.Description)
			continue
		}
		key := SlotKey{Date: m.Date, Time: m.Time}
		if prev, dup := targets[key]; dup {
			t.Errorf("colliders %s and %s both landed on %s %s", prev, m.Client, key.Date, key.Time)
		}
		targets[key] = m.Client
	}
	if len(targets) != 3 {
		t.Errorf("expected 3 distinct targets, got %d", len(targets))
	}
}

func TestResolver_IgnoresConfirmedAndSelf(t *testing.T) {
	r, _, ledger := resolverFixture()

	confirmed := newAppointment("2026-03-10", "09:00", "Ana", StatusConfirmed)
	ledger.Create(confirmed)
	other := newAppointment("2026-03-10", "14:00", "Elsewhere", StatusPending)
	ledger.Create(other)

	mutated := r.Resolve(confirmed)
	if len(mutated) != 0 {
		t.Errorf("no colliders at the key, expected no mutations, got %d", len(mutated))
	}

	stored, _ := ledger.Get(other.ID)
	if stored.Description != "" {
		t.Error("appointment at another key must not be touched")
	}
}
