package zcl

import (
	"log/slog"
	"os"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(newTestLogger())

	c := ClusterDef{
		ID:   0x0006,
		Name: "On/Off",
		Attributes: []AttributeDef{
			{ID: 0, Name: "OnOff", Type: TypeBool, Access: AccessRead},
		},
	}
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}

	got := r.Get(0x0006)
	if got == nil {
		t.Fatal("cluster not found")
	}
	if got.Name != "On/Off" {
		t.Errorf("name = %q, want %q", got.Name, "On/Off")
	}
	if len(got.Attributes) != 1 {
		t.Errorf("attrs = %d, want 1", len(got.Attributes))
	}

	// Mutating the copy must not leak into the registry.
	got.Attributes[0].Name = "changed"
	if r.Get(0x0006).Attributes[0].Name != "OnOff" {
		t.Error("registry entry modified through Get copy")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry(newTestLogger())
	if err := r.Register(ClusterDef{ID: 0x0006, Name: "On/Off"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ClusterDef{ID: 0x0006, Name: "Other"}); err == nil {
		t.Error("expected duplicate error")
	}
}

func TestRegistryRejectsManufacturerSpecific(t *testing.T) {
	r := NewRegistry(newTestLogger())
	if err := r.Register(ClusterDef{ID: 0xFF00, Name: "Custom"}); err == nil {
		t.Error("expected error for vendor cluster")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry(newTestLogger())

	for _, id := range []uint16{3, 1, 2} {
		if err := r.Register(ClusterDef{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("got %d clusters, want 3", len(all))
	}
	for i, c := range all {
		if c.ID != uint16(i+1) {
			t.Errorf("all[%d].ID = %d, want %d", i, c.ID, i+1)
		}
	}
}
