package modulesdk

import (
	"sync"
	"testing"
	"time"
)

func TestStreamDefaults(t *testing.T) {
	s := NewStream(StreamSpec{StreamID: "temp1", Datatype: DatatypeFloat, Value: 20.0})
	snap := s.Snapshot()
	if snap["status"] != string(StreamActive) {
		t.Errorf("status = %v, want active", snap["status"])
	}
	if snap["priority"] != string(PriorityNormal) {
		t.Errorf("priority = %v, want normal", snap["priority"])
	}
	if snap["stream_id"] != "temp1" || snap["datatype"] != "float" || snap["value"] != 20.0 {
		t.Errorf("snapshot = %v", snap)
	}
}

func TestStreamTimestampMonotonic(t *testing.T) {
	s := NewStream(StreamSpec{StreamID: "a", Datatype: DatatypeInt, Value: 0})
	var prev time.Time
	for i := 0; i < 200; i++ {
		s.SetValue(i)
		now := s.UpdatedAt()
		if now.Before(prev) {
			t.Fatalf("updated_at went backwards at write %d: %v < %v", i, now, prev)
		}
		prev = now
	}
}

// Value and timestamp change under one lock; a reader of Snapshot never
// sees a value without its matching timestamp format.
func TestStreamConcurrentWrites(t *testing.T) {
	s := NewStream(StreamSpec{StreamID: "a", Datatype: DatatypeInt, Value: 0})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.SetValue(base*1000 + i)
			}
		}(w)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			snap := s.Snapshot()
			ts, _ := snap["stream-update-timestamp"].(string)
			if _, err := time.Parse(TimestampLayout, ts); err != nil {
				t.Errorf("malformed timestamp %q: %v", ts, err)
				return
			}
		}
	}()
	wg.Wait()
	<-done
}

func TestStreamSnapshotIsCopy(t *testing.T) {
	s := NewStream(StreamSpec{
		StreamID: "a",
		Datatype: DatatypeString,
		Value:    "x",
		Metadata: map[string]any{"unit_system": "si"},
	})
	snap := s.Snapshot()
	meta := snap["metadata"].(map[string]any)
	meta["unit_system"] = "imperial"
	if s.Snapshot()["metadata"].(map[string]any)["unit_system"] != "si" {
		t.Error("snapshot shares metadata map with the stream")
	}
}

func TestApplyConfigDelta(t *testing.T) {
	temp := NewStream(StreamSpec{StreamID: "temp1", Datatype: DatatypeFloat, Value: 20.0})
	streams := map[string]*Stream{"temp1": temp}
	config := map[string]any{"update_rate": 10.0}

	ApplyConfigDelta(streams, config, map[string]any{
		"temp1_value":  23.5,
		"update_rate":  5.0,
		"orphan_value": 1.0,
		"not_a_suffix": true,
		"_value":       "bare suffix is a config key",
	})

	if temp.Value() != 23.5 {
		t.Errorf("stream value = %v, want 23.5", temp.Value())
	}
	if _, leaked := config["temp1_value"]; leaked {
		t.Error("stream write leaked into config")
	}
	if config["update_rate"] != 5.0 {
		t.Errorf("update_rate = %v, want 5.0", config["update_rate"])
	}
	// No stream named "orphan" exists, so the key stays a config key.
	if config["orphan_value"] != 1.0 {
		t.Errorf("orphan_value = %v", config["orphan_value"])
	}
	if config["_value"] != "bare suffix is a config key" {
		t.Errorf("_value = %v", config["_value"])
	}
}
