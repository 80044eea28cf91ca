package clusters

import (
	"log/slog"
	"os"
	"testing"

	"zigbee-go-router/internal/zcl"
)

func TestRegisterStandard(t *testing.T) {
	r := zcl.NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err := RegisterStandard(r); err != nil {
		t.Fatal(err)
	}
	if got := len(r.All()); got != len(Standard) {
		t.Errorf("registered %d, want %d", got, len(Standard))
	}

	for _, c := range Standard {
		seen := make(map[uint16]bool)
		for _, a := range c.Attributes {
			if seen[a.ID] {
				t.Errorf("%s: duplicate attribute 0x%04X", c.Name, a.ID)
			}
			seen[a.ID] = true
			if !zcl.KnownType(a.Type) {
				t.Errorf("%s.%s: unsupported type 0x%02X", c.Name, a.Name, a.Type)
			}
		}
	}
}
