//go:build !no_automation

package automation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return m, dir
}

func TestManagerListEmpty(t *testing.T) {
	m, _ := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerMissingDir(t *testing.T) {
	if _, err := NewManager(filepath.Join(t.TempDir(), "nope"), slog.Default()); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestManagerParsesMetadata(t *testing.T) {
	m, dir := newTestManager(t)
	files := map[string]string{
		"plain.lua": "node.log(\"hi\")\n",
		"meta.lua":  "-- {\"name\": \"Join notifier\", \"description\": \"logs joins\"}\n\nnode.log(\"x\")\n",
		"off.lua":   "-- {\"enabled\": false}\nnode.log(\"y\")\n",
	}
	for name, code := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(code), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("list count = %d, want 3", len(scripts))
	}
	if scripts[0].ID != "meta" || scripts[1].ID != "off" || scripts[2].ID != "plain" {
		t.Errorf("order = %s, %s, %s", scripts[0].ID, scripts[1].ID, scripts[2].ID)
	}

	tests := []struct {
		id      string
		name    string
		enabled bool
		code    string
	}{
		{"meta", "Join notifier", true, "node.log(\"x\")\n"},
		{"off", "off", false, "node.log(\"y\")\n"},
		{"plain", "plain", true, "node.log(\"hi\")\n"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s, err := m.Get(tt.id)
			if err != nil {
				t.Fatal(err)
			}
			if s.Meta.Name != tt.name || s.Meta.Enabled != tt.enabled {
				t.Errorf("meta = %+v", s.Meta)
			}
			if s.LuaCode != tt.code {
				t.Errorf("code = %q, want %q", s.LuaCode, tt.code)
			}
		})
	}
}

func TestManagerRejectsBadIDs(t *testing.T) {
	m, _ := newTestManager(t)
	for _, id := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) should fail", id)
		}
	}
}
