package alerts

import (
	"testing"
	"time"

	"fertiguard/internal/model"
)

func TestStoreEviction(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(model.Alert{ID: int64(i), SensorName: "ph"})
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// The oldest two were evicted.
	if got[0].ID != 2 || got[2].ID != 4 {
		t.Errorf("ids = %d..%d, want 2..4", got[0].ID, got[2].ID)
	}
}

func TestStoreListLimit(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 5; i++ {
		s.Add(model.Alert{ID: int64(i)})
	}
	got := s.List(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != 3 || got[1].ID != 4 {
		t.Errorf("limit must return the newest entries, got %v", got)
	}
}

func TestStoreSince(t *testing.T) {
	s := NewStore(10)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		s.Add(model.Alert{ID: int64(i), CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	got := s.Since(base.Add(2 * time.Minute))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	s.Clear()
	if len(s.List(0)) != 0 {
		t.Fatal("clear left entries behind")
	}
}
