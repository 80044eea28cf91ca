package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetProvisioning(t *testing.T) {
	s := newTestStore(t)

	p := &Provisioning{
		ExtendedPanID: [8]byte{0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD, 0xDD},
		PanID:         0x1A62,
		Channel:       15,
		ShortAddress:  0x4F21,
		JoinedAt:      time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveProvisioning(p); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProvisioning()
	if err != nil {
		t.Fatal(err)
	}
	if got.ExtendedPanID != p.ExtendedPanID {
		t.Errorf("ext pan = %x, want %x", got.ExtendedPanID, p.ExtendedPanID)
	}
	if got.PanID != p.PanID {
		t.Errorf("pan = 0x%04X, want 0x%04X", got.PanID, p.PanID)
	}
	if got.Channel != p.Channel {
		t.Errorf("channel = %d, want %d", got.Channel, p.Channel)
	}
	if got.ShortAddress != p.ShortAddress {
		t.Errorf("short = 0x%04X, want 0x%04X", got.ShortAddress, p.ShortAddress)
	}
	if !got.JoinedAt.Equal(p.JoinedAt) {
		t.Errorf("joined at = %v, want %v", got.JoinedAt, p.JoinedAt)
	}
}

func TestGetProvisioningNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProvisioning()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClearProvisioning(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveProvisioning(&Provisioning{PanID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearProvisioning(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProvisioning(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// Clearing twice is fine.
	if err := s.ClearProvisioning(); err != nil {
		t.Fatal(err)
	}
}

func TestProvisioningSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvram.db")

	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProvisioning(&Provisioning{PanID: 0xBEEF, Channel: 20}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.GetProvisioning()
	if err != nil {
		t.Fatal(err)
	}
	if got.PanID != 0xBEEF || got.Channel != 20 {
		t.Errorf("got %+v", got)
	}
}

func TestHistoryAppendAndList(t *testing.T) {
	s := newTestStore(t)

	for _, ev := range []string{"steering_failed", "retry_scheduled", "network_joined"} {
		e := &HistoryEntry{Time: time.Now(), BootID: "boot", Event: ev}
		if err := s.AppendHistory(e); err != nil {
			t.Fatal(err)
		}
		if e.Seq == 0 {
			t.Errorf("seq not assigned for %s", ev)
		}
	}

	all, err := s.ListHistory(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Event != "steering_failed" || all[2].Event != "network_joined" {
		t.Errorf("order = %s, %s, %s", all[0].Event, all[1].Event, all[2].Event)
	}

	last, err := s.ListHistory(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 {
		t.Fatalf("len = %d, want 2", len(last))
	}
	if last[0].Event != "retry_scheduled" || last[1].Event != "network_joined" {
		t.Errorf("order = %s, %s", last[0].Event, last[1].Event)
	}
}

func TestHistoryLimit(t *testing.T) {
	s := newTestStore(t)
	s.SetHistoryLimit(5)

	for i := 0; i < 12; i++ {
		if err := s.AppendHistory(&HistoryEntry{Event: "steering_failed"}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListHistory(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	if all[0].Seq != 8 || all[4].Seq != 12 {
		t.Errorf("kept seq %d..%d, want 8..12", all[0].Seq, all[4].Seq)
	}
}

func TestHistoryEmpty(t *testing.T) {
	s := newTestStore(t)

	all, err := s.ListHistory(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("len = %d, want 0", len(all))
	}
}
