package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fixedDelayConfig mirrors agent/executor.go's stepRetryConfig: BackoffFactor
// 1 and zero jitter collapse the exponential curve to a constant delay.
func fixedDelayConfig(maxRetries int, delay time.Duration) *RetryConfig {
	return &RetryConfig{
		MaxRetries:     maxRetries,
		InitialDelay:   delay,
		MaxDelay:       delay,
		BackoffFactor:  1,
		JitterFraction: 0,
	}
}

func TestRetryWithBackoffCounter(t *testing.T) {
	tests := []struct {
		name           string
		config         *RetryConfig
		attempts       int
		finalError     error
		expectError    bool
		expectAttempts int
	}{
		{
			name:           "successful on first attempt",
			config:         fixedDelayConfig(2, time.Millisecond),
			attempts:       1,
			finalError:     nil,
			expectError:    false,
			expectAttempts: 1,
		},
		{
			name:           "successful after retry",
			config:         fixedDelayConfig(2, time.Millisecond),
			attempts:       2,
			finalError:     nil,
			expectError:    false,
			expectAttempts: 2,
		},
		{
			name:           "max retries exceeded",
			config:         fixedDelayConfig(2, time.Millisecond),
			attempts:       10, // more than max retries
			finalError:     &RetryableError{Err: errors.New("step execution failed"), Retryable: true, Reason: "step execution"},
			expectError:    true,
			expectAttempts: 3, // initial attempt + 2 retries, matching MaxRetries=2 -> 3 attempts
		},
		{
			name:           "non-retryable error stops immediately",
			config:         fixedDelayConfig(2, time.Millisecond),
			attempts:       1,
			finalError:     errors.New("plain error, never wrapped as retryable"),
			expectError:    true,
			expectAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			attemptCount := 0

			err := RetryWithBackoffCounter(ctx, tt.config, tt.name, func(attempt int) error {
				attemptCount++
				if attemptCount < tt.attempts {
					return &RetryableError{Err: errors.New("step execution"), Retryable: true, Reason: "step execution"}
				}
				return tt.finalError
			})

			if tt.expectError && err == nil {
				t.Errorf("expected error but got nil")
			} else if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if attemptCount != tt.expectAttempts {
				t.Errorf("expected %d attempts, got %d", tt.expectAttempts, attemptCount)
			}
		})
	}
}

func TestRetryWithBackoffCounterRespectsFixedDelay(t *testing.T) {
	config := fixedDelayConfig(2, 10*time.Millisecond)
	ctx := context.Background()
	attemptCount := 0

	start := time.Now()
	err := RetryWithBackoffCounter(ctx, config, "fixed-delay", func(attempt int) error {
		attemptCount++
		if attemptCount < 3 {
			return &RetryableError{Err: errors.New("transient"), Retryable: true}
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("expected success on third attempt, got: %v", err)
	}
	if attemptCount != 3 {
		t.Fatalf("expected 3 attempts, got %d", attemptCount)
	}
	// Two waits of ~10ms each with BackoffFactor 1 (no growth) and no jitter.
	if elapsed < 20*time.Millisecond {
		t.Errorf("expected at least 2 fixed delays (~20ms), elapsed %v", elapsed)
	}
}

func TestRetryWithBackoffCounterStopsOnContextCancellation(t *testing.T) {
	config := fixedDelayConfig(5, 100*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	attemptCount := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := RetryWithBackoffCounter(ctx, config, "cancel-test", func(attempt int) error {
		attemptCount++
		return &RetryableError{Err: errors.New("transient"), Retryable: true}
	})

	if err == nil {
		t.Error("expected error due to context cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected a context.Canceled-wrapping error, got: %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil error", err: nil, retryable: false},
		{name: "retryable error", err: &RetryableError{Err: errors.New("test"), Retryable: true}, retryable: true},
		{name: "non-retryable error", err: &RetryableError{Err: errors.New("test"), Retryable: false}, retryable: false},
		{name: "plain unwrapped error defaults to non-retryable", err: errors.New("regular error"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, got)
			}
		})
	}
}

func TestJitter(t *testing.T) {
	baseDuration := 100 * time.Millisecond
	fraction := 0.1

	for i := 0; i < 10; i++ {
		jittered := addJitter(baseDuration, fraction)

		minExpected := baseDuration
		maxExpected := baseDuration + time.Duration(float64(baseDuration)*fraction)

		if jittered < minExpected || jittered > maxExpected {
			t.Errorf("jittered duration %v outside expected range [%v, %v]",
				jittered, minExpected, maxExpected)
		}
	}
}

func TestJitterZeroFractionIsNoOp(t *testing.T) {
	if got := addJitter(50*time.Millisecond, 0); got != 50*time.Millisecond {
		t.Errorf("expected zero jitter to return the base duration unchanged, got %v", got)
	}
}
