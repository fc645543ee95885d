package metrics

import (
	"testing"
	"time"
)

func TestDetailedLoadMetrics_RecordLoad(t *testing.T) {
	d := NewDetailedLoadMetrics(10)

	d.RecordLoad("image", "a.png", 30*time.Millisecond, 1, false)
	d.RecordLoad("image", "a.png", 10*time.Millisecond, 2, true)
	d.RecordLoad("json", "b.json", 5*time.Millisecond, 1, true)

	tm := d.GetTypeMetrics("image")
	if tm == nil {
		t.Fatal("image metrics missing")
	}
	if tm.Count != 2 {
		t.Errorf("Count = %d, want 2", tm.Count)
	}
	if tm.MinLatency != 10*time.Millisecond || tm.MaxLatency != 30*time.Millisecond {
		t.Errorf("latency range = [%v, %v], want [10ms, 30ms]", tm.MinLatency, tm.MaxLatency)
	}
	if tm.AverageLatency != 20*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 20ms", tm.AverageLatency)
	}
	if tm.Retries != 1 || tm.ErrorCount != 1 {
		t.Errorf("Retries = %d, ErrorCount = %d, want 1 and 1", tm.Retries, tm.ErrorCount)
	}
	if tm.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", tm.ErrorRate)
	}

	if d.GetTypeMetrics("audio") != nil {
		t.Error("unrecorded type should be nil")
	}

	summary := d.GetSummary()
	if summary["total_attempts"] != int64(3) {
		t.Errorf("total_attempts = %v, want 3", summary["total_attempts"])
	}
	if summary["tracked_assets_count"] != 2 {
		t.Errorf("tracked_assets_count = %v, want 2", summary["tracked_assets_count"])
	}
}

func TestDetailedLoadMetrics_SlowestAssets(t *testing.T) {
	d := NewDetailedLoadMetrics(2)

	d.RecordLoad("image", "fast.png", time.Millisecond, 1, true)
	d.RecordLoad("audio", "slow.ogg", 50*time.Millisecond, 1, true)
	d.RecordLoad("json", "untracked.json", time.Second, 1, true)

	slowest := d.GetSlowestAssets(5)
	if len(slowest) != 2 {
		t.Fatalf("len(slowest) = %d, want 2 (tracking limit)", len(slowest))
	}
	if slowest[0].URL != "slow.ogg" || slowest[1].URL != "fast.png" {
		t.Errorf("order = %s, %s", slowest[0].URL, slowest[1].URL)
	}
	if slowest[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", slowest[0].Attempts)
	}

	d.Reset()
	if len(d.GetSlowestAssets(5)) != 0 {
		t.Error("Reset() kept assets")
	}
	if d.GetTypeMetrics("image") != nil {
		t.Error("Reset() kept type metrics")
	}
}
