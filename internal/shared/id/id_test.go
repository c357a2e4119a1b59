package id

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
	if id1.Compare(id2) >= 0 {
		t.Error("IDs from the same generator should be increasing")
	}
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateString()

	if len(id) != 26 {
		t.Errorf("ULID should be 26 characters, got %d", len(id))
	}
}

func TestNewRunID(t *testing.T) {
	runID := NewRunID()

	if !strings.HasPrefix(runID.String(), RunPrefix+"_") {
		t.Fatalf("run ID should start with %q, got %s", RunPrefix+"_", runID)
	}

	ts, err := Timestamp(runID.String())
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("timestamp too old: %v", ts)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("run_not-a-ulid"); err == nil {
		t.Error("expected parse error")
	}
	if IsValid("nope") {
		t.Error("IsValid should reject non-ULIDs")
	}
}

func TestConcurrentRunIDsUnique(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[RunID]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]RunID, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, NewRunID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, runID := range local {
				seen[runID] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique IDs, got %d", workers*perWorker, len(seen))
	}
}
