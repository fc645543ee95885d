package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/assetpipe/assetpipe/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.Delay = time.Millisecond
	return config
}

func do(r *Retryer, fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context, _ int) error {
		return fn()
	})
}

func TestRetryer_Success(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	err := do(retryer, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	seen := []int{}
	err := retryer.DoWithContext(context.Background(), func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.NewLoadError("json", "a.json", attempt, 3, errors.ReasonNetworkError)
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("Expected attempts [1 2 3], got %v", seen)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	testErr := errors.NewLoadError("json", "a.json", 1, 3, errors.ReasonHTTPNotFound)

	err := do(retryer, func() error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected the terminal error unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	tests := []int{1, 2, 5}

	for _, n := range tests {
		retryer := New(fastConfig(n))

		attempts := 0
		err := retryer.DoWithContext(context.Background(), func(ctx context.Context, attempt int) error {
			attempts++
			return errors.NewLoadError("json", "a.json", attempt, n, errors.ReasonTimeout)
		})

		if attempts != n {
			t.Errorf("n=%d: expected %d attempts, got %d", n, n, attempts)
		}

		var le *errors.LoadError
		if !stderr.As(err, &le) {
			t.Fatalf("n=%d: expected LoadError, got %v", n, err)
		}
		if le.Attempt != n || le.MaxAttempts != n {
			t.Errorf("n=%d: error reports %d/%d", n, le.Attempt, le.MaxAttempts)
		}
	}
}

func TestRetryer_ForcedReasons(t *testing.T) {
	config := fastConfig(2)
	config.RetryableReasons = []errors.Reason{errors.ReasonParseError}
	retryer := New(config)

	attempts := 0
	_ = do(retryer, func() error {
		attempts++
		return errors.NewLoadError("json", "a.json", attempts, 2, errors.ReasonParseError)
	})

	if attempts != 2 {
		t.Errorf("Expected forced reason to retry, got %d attempts", attempts)
	}
}

func TestRetryer_UntypedErrorIsTerminal(t *testing.T) {
	retryer := New(fastConfig(3))

	attempts := 0
	_ = do(retryer, func() error {
		attempts++
		return stderr.New("boom")
	})

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := fastConfig(10)
	config.Delay = 100 * time.Millisecond
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := retryer.DoWithContext(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		return errors.NewLoadError("image", "a.png", attempt, 10, errors.ReasonNetworkError)
	})

	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts >= 10 {
		t.Errorf("Expected fewer than 10 attempts due to cancellation, got %d", attempts)
	}
}

func TestRetryer_ConstantDelay(t *testing.T) {
	config := fastConfig(4)
	config.Delay = 5 * time.Millisecond

	delays := []time.Duration{}
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)
	_ = do(retryer, func() error {
		return errors.NewLoadError("image", "a.png", 1, 4, errors.ReasonNetworkError)
	})

	if len(delays) != 3 {
		t.Fatalf("Expected 3 delays, got %d", len(delays))
	}
	for i, d := range delays {
		if d != 5*time.Millisecond {
			t.Errorf("Delay %d: expected 5ms, got %v", i, d)
		}
	}
}

func TestRetryer_MultiplierAndCap(t *testing.T) {
	config := fastConfig(5)
	config.Delay = time.Millisecond
	config.Multiplier = 2.0
	config.MaxDelay = 3 * time.Millisecond

	delays := []time.Duration{}
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)
	_ = do(retryer, func() error {
		return errors.NewLoadError("image", "a.png", 1, 5, errors.ReasonNetworkError)
	})

	expected := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 3 * time.Millisecond}
	if len(delays) != len(expected) {
		t.Fatalf("Expected %d delays, got %d", len(expected), len(delays))
	}
	for i := range expected {
		if delays[i] != expected[i] {
			t.Errorf("Delay %d: expected %v, got %v", i, expected[i], delays[i])
		}
	}
}

func TestRetryer_Defaults(t *testing.T) {
	retryer := New(Config{})
	if retryer.MaxAttempts() != 3 {
		t.Errorf("Expected default 3 attempts, got %d", retryer.MaxAttempts())
	}
}

func TestRetryer_Jitter(t *testing.T) {
	config := fastConfig(6)
	config.Delay = 10 * time.Millisecond
	config.Jitter = true

	delays := []time.Duration{}
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}

	retryer := New(config)
	_ = do(retryer, func() error {
		return errors.NewLoadError("image", "a.png", 1, 6, errors.ReasonNetworkError)
	})

	if len(delays) != 5 {
		t.Fatalf("Expected 5 delays, got %d", len(delays))
	}
	for i, d := range delays {
		if d < 8*time.Millisecond || d > 12*time.Millisecond {
			t.Errorf("Delay %d: %v outside 10ms ±20%%", i, d)
		}
	}
}

func TestStatsCollector(t *testing.T) {
	sc := NewStatsCollector()
	retryer := New(fastConfig(3)).WithStats(sc)

	_ = do(retryer, func() error { return nil })
	_ = do(retryer, func() error {
		return errors.NewLoadError("json", "a.json", 1, 3, errors.ReasonNetworkError)
	})

	stats := sc.GetStats()
	if stats.TotalRuns != 2 {
		t.Errorf("TotalRuns = %d, want 2", stats.TotalRuns)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Errorf("Succeeded/Failed = %d/%d, want 1/1", stats.Succeeded, stats.Failed)
	}
	if stats.TotalAttempts != 4 {
		t.Errorf("TotalAttempts = %d, want 4", stats.TotalAttempts)
	}
	if stats.MaxAttemptsUsed != 3 {
		t.Errorf("MaxAttemptsUsed = %d, want 3", stats.MaxAttemptsUsed)
	}
	if stats.AverageAttempts != 2 {
		t.Errorf("AverageAttempts = %v, want 2", stats.AverageAttempts)
	}

	sc.Reset()
	if sc.GetStats().TotalRuns != 0 {
		t.Error("Reset did not clear stats")
	}
}
