package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRealClockNowAndSince(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	require.False(t, now.Before(before))

	past := time.Now().Add(-time.Second)
	require.GreaterOrEqual(t, clock.Since(past), time.Second)
}

func TestRealClockTickerFires(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClockAdvanceMovesNow(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	start := clock.Now()

	clock.Advance(90 * time.Second)
	require.Equal(t, 90*time.Second, clock.Since(start))
}

// Sleep must not block: a reconnect backoff in a test would otherwise
// stall for real wall-clock seconds. The recorded durations are what
// the source tests assert the exponential schedule against.
func TestMockClockRecordsSleeps(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))

	done := make(chan struct{})
	go func() {
		clock.Sleep(100 * time.Millisecond)
		clock.Sleep(200 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("mock Sleep blocked")
	}

	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Sleeps())
}

// A push-cadence-style loop: the ticker fires once per elapsed
// interval, and coalesces when Advance jumps past several intervals at
// once (the channel holds a single pending tick, like time.Ticker).
func TestMockTickerFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(100 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	clock.Advance(350 * time.Millisecond)
	ticks := 0
	for {
		select {
		case <-ticker.C():
			ticks++
			continue
		default:
		}
		break
	}
	require.Equal(t, 1, ticks)
}

func TestMockTickerStopSuppressesFiring(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
