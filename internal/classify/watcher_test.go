package classify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_DebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "results.csv")
	other := filepath.Join(dir, "unrelated.txt")
	for _, p := range []string{input, other} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	calls := make(chan []string, 10)
	w, err := NewWatcher([]string{input}, func(changed []string) { calls <- changed }, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(50 * time.Millisecond)
	w.Start(context.Background())
	defer w.Stop()

	os.WriteFile(other, []byte("y"), 0644)
	for i := 0; i < 3; i++ {
		os.WriteFile(input, []byte{byte('a' + i)}, 0644)
	}

	select {
	case changed := <-calls:
		want, _ := filepath.Abs(input)
		if len(changed) != 1 || changed[0] != want {
			t.Errorf("changed = %v, want [%s]", changed, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}

	select {
	case extra := <-calls:
		t.Errorf("burst should produce one callback, got another: %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}
