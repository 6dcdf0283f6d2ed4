package artifact

import (
	"context"
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 5m", false},
		{"@hourly", false},
		{"*/10 * * * *", false},
		{"every five minutes", true},
	}

	for _, tt := range tests {
		_, err := ParseSchedule(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNewSweeper_Invalid(t *testing.T) {
	store := NewMemoryStore()
	if _, err := NewSweeper(store, "nonsense", time.Hour, nil); err == nil {
		t.Error("invalid schedule should error")
	}
	if _, err := NewSweeper(store, "@every 1m", 0, nil); err == nil {
		t.Error("zero retention should error")
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	store.Put(ctx, &Artifact{JobID: "old", CreatedAt: now.Add(-90 * time.Minute)})
	store.Put(ctx, &Artifact{JobID: "new", CreatedAt: now.Add(-30 * time.Minute)})

	s, err := NewSweeper(store, "@every 5m", time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }

	if got := s.SweepOnce(ctx); got != 1 {
		t.Errorf("swept %d, want 1", got)
	}
	if got := s.SweepOnce(ctx); got != 0 {
		t.Errorf("second sweep removed %d, want 0", got)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper(NewMemoryStore(), "@every 1h", time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	s.Stop()
}
