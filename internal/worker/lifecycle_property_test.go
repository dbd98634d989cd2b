package worker

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestLifecycleProperty fuzzes random operation sequences against one worker
// and checks the lifecycle invariant: once a worker is closed, no Wait or
// SendContinuation on it ever succeeds.
func TestLifecycleProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// Endless supply of rounds so continuations always have a reply.
		script := make([]RunResult, 32)
		for i := range script {
			script[i] = RunResult{Output: "## Summary\nround"}
		}
		pool := NewPool(&fakeFactory{runners: []*fakeRunner{newFakeRunner(script...)}})

		id, err := pool.Spawn(StartRequest{TaskID: "t-fuzz"})
		if err != nil {
			rt.Fatalf("spawn: %v", err)
		}

		closed := false
		ops := rapid.IntRange(1, 20).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0: // wait
				res, err := pool.Wait([]string{id}, 50*time.Millisecond)
				if closed {
					if err == nil {
						rt.Fatal("Wait succeeded after Close")
					}
					if !errors.Is(err, ErrAlreadyClosed) {
						rt.Fatalf("Wait after Close: %v", err)
					}
				} else if err != nil {
					rt.Fatalf("Wait on live worker: %v", err)
				} else if len(res.Outcomes)+len(res.TimedOut) != 1 {
					rt.Fatalf("Wait lost the worker: %+v", res)
				}
			case 1: // continuation
				err := pool.SendContinuation(id, "go on")
				if closed && !errors.Is(err, ErrAlreadyClosed) {
					rt.Fatalf("SendContinuation after Close: %v", err)
				}
				// On a live worker ErrNotAwaiting is fine: the round may
				// still be in flight.
			case 2: // close
				err := pool.Close(id)
				if closed && !errors.Is(err, ErrAlreadyClosed) {
					rt.Fatalf("second Close: %v", err)
				}
				if !closed && err != nil {
					rt.Fatalf("first Close: %v", err)
				}
				closed = true
			}
		}

		if !closed {
			if err := pool.Close(id); err != nil {
				rt.Fatalf("final Close: %v", err)
			}
		}
		spawned, closedCount := pool.Counts()
		if spawned != closedCount {
			rt.Fatalf("spawned=%d closed=%d at steady state", spawned, closedCount)
		}
	})
}
