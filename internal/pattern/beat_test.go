package pattern

import (
	"fmt"
	"testing"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

func itemReady(name, artifact, touches string) models.Message {
	payload := name
	if touches != "" {
		payload += "\n" + touches
	}
	return models.Message{
		From:     "w-producer",
		To:       "coordinator",
		Type:     models.MessageItemReady,
		Payload:  payload,
		Artifact: artifact,
	}
}

// TestBeatPipelinesIndependentItems replays the producer emitting three
// independent items at t=0,1,2 against consumers that take 5 ticks each,
// using a logical clock. Per-item dispatch must overlap the consumers, so
// the makespan beats the sequential schedule.
func TestBeatPipelinesIndependentItems(t *testing.T) {
	eng, _ := New("beat", Config{})
	s := newSim(t, eng, "split the migration into items")

	const consumerTicks = 5
	finish := map[string]int{} // consumer subject -> finish tick
	clock := 0

	s.step() // spawn the producer

	emit := func(name string) {
		s.send(itemReady(name, "art-"+name, "res-"+name))
		d := s.step() // create the consumer
		if len(d.FollowUps) != 1 {
			t.Fatalf("t=%d: item %s not dispatched immediately: %+v", clock, name, d.FollowUps)
		}
		s.step() // spawn it
		subject := "consume-" + name
		if s.mustBySubject(subject).Status != models.TaskStatusInProgress {
			t.Fatalf("t=%d: consumer %s not running", clock, subject)
		}
		finish[subject] = clock + consumerTicks
	}

	for i := 1; i <= 3; i++ {
		clock = i - 1
		emit(fmt.Sprintf("item-%d", i))
	}

	// Producer finishes after announcing everything.
	clock = 3
	s.send(models.Message{From: "w-producer", To: "coordinator", Type: models.MessageAllPlanned})
	s.complete("produce", nil)
	s.step()

	// Advance the clock to each consumer's completion.
	wallClock := 0
	for subject, at := range finish {
		if at > wallClock {
			wallClock = at
		}
		s.complete(subject, nil)
	}
	d := s.settle()
	if !d.Done || d.Verdict != models.VerdictApprove {
		t.Fatalf("expected done+approve, got %+v", d)
	}

	producerTotal := 3
	sequential := producerTotal + 3*consumerTicks
	if wallClock >= sequential {
		t.Fatalf("pipelined makespan %d must beat sequential %d", wallClock, sequential)
	}
}

func TestBeatWithholdsConflictingItems(t *testing.T) {
	eng, _ := New("beat", Config{})
	s := newSim(t, eng, "items share a schema file")

	s.step()
	s.send(itemReady("one", "a1", "schema.sql"))
	d := s.step()
	if len(d.FollowUps) != 1 {
		t.Fatal("first item must dispatch")
	}
	s.step()

	// Second item touches the same resource while the first is in flight.
	s.send(itemReady("two", "a2", "schema.sql"))
	d = s.step()
	if len(d.FollowUps) != 0 {
		t.Fatalf("conflicting item must be withheld, got %+v", d.FollowUps)
	}
	if s.st.Note("deferred") == "" {
		t.Fatal("withheld item must be recorded as deferred")
	}

	// The conflict clears when the first consumer finishes.
	s.complete("consume-one", nil)
	d = s.step()
	if len(d.FollowUps) != 1 || d.FollowUps[0].Subject != "consume-two" {
		t.Fatalf("deferred item must dispatch once the conflict clears, got %+v", d.FollowUps)
	}
}

func TestBeatFailedItemDoesNotBlockOthers(t *testing.T) {
	eng, _ := New("beat", Config{MaxRetries: 1})
	s := newSim(t, eng, "independent items")

	s.step()
	s.send(itemReady("good", "a1", "res-a"))
	s.send(itemReady("bad", "a2", "res-b"))
	s.step()
	s.step()

	s.block("consume-bad", "checksum mismatch")
	s.step() // retry once
	s.step() // respawn
	s.block("consume-bad", "checksum mismatch again")
	s.step() // budget spent: drop just this item

	if s.mustBySubject("consume-bad").Status != models.TaskStatusSkipped {
		t.Fatal("failed item must be dropped, not retried forever")
	}

	s.complete("consume-good", nil)
	s.send(models.Message{From: "w-producer", To: "coordinator", Type: models.MessageAllPlanned})
	s.complete("produce", nil)

	d := s.settle()
	if !d.Done || d.Verdict != models.VerdictConditional {
		t.Fatalf("a dropped item must finish the chain with a downgraded verdict, got %+v", d)
	}
}
