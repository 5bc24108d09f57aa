package telemetry

import (
	"sync"
	"testing"
)

func TestCountersAddAndStore(t *testing.T) {
	counters := NewCounters()
	counters.Add("requests", 2)
	counters.Add("requests", 3)
	counters.Store("occupancy", 7)
	counters.Store("occupancy", 4)

	if got := counters.Get("requests"); got != 5 {
		t.Fatalf("expected requests 5, got %d", got)
	}
	if got := counters.Get("occupancy"); got != 4 {
		t.Fatalf("store must overwrite, got %d", got)
	}
	if got := counters.Get("missing"); got != 0 {
		t.Fatalf("unknown key should read 0, got %d", got)
	}

	snapshot := counters.Snapshot()
	counters.Add("requests", 100)
	if snapshot["requests"] != 5 {
		t.Fatalf("snapshot must be detached from live counters, got %d", snapshot["requests"])
	}
}

func TestCountersConcurrentAdd(t *testing.T) {
	counters := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				counters.Add("ticks", 1)
			}
		}()
	}
	wg.Wait()
	if got := counters.Get("ticks"); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}
