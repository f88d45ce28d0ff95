package eventlog

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppendAndSnapshot(t *testing.T) {
	log := NewLog(discardLogger(), nil)

	e1 := contract.Event{ID: "e1", Kind: contract.EventCommandAccepted}
	e2 := contract.Event{ID: "e2", Kind: contract.EventCommandCompleted}

	require.NoError(t, log.Append(e1))
	require.NoError(t, log.Append(e2))

	snap := log.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, e1.ID, snap[0].ID)
	assert.Equal(t, e2.ID, snap[1].ID)
}

func TestSubscribeFromBirthReplaysExistingEvents(t *testing.T) {
	log := NewLog(discardLogger(), nil)
	require.NoError(t, log.Append(contract.Event{ID: "e1"}))
	require.NoError(t, log.Append(contract.Event{ID: "e2"}))

	ch, unsubscribe := log.Subscribe()
	defer unsubscribe()

	first := <-ch
	second := <-ch
	assert.Equal(t, contract.EventID("e1"), first.ID)
	assert.Equal(t, contract.EventID("e2"), second.ID)
}

func TestSubscribeReceivesLiveEventsInOrder(t *testing.T) {
	log := NewLog(discardLogger(), nil)
	ch, unsubscribe := log.Subscribe()
	defer unsubscribe()

	go func() {
		for i := 0; i < 50; i++ {
			log.Append(contract.Event{ID: contract.EventID(string(rune('a' + i%26)))})
		}
	}()

	for i := 0; i < 50; i++ {
		select {
		case e := <-ch:
			assert.Equal(t, contract.EventID(string(rune('a'+i%26))), e.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestTwoSubscribersEachSeeAllEvents(t *testing.T) {
	log := NewLog(discardLogger(), nil)
	ch1, unsub1 := log.Subscribe()
	ch2, unsub2 := log.Subscribe()
	defer unsub1()
	defer unsub2()

	require.NoError(t, log.Append(contract.Event{ID: "e1"}))

	select {
	case e := <-ch1:
		assert.Equal(t, contract.EventID("e1"), e.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 did not receive event")
	}
	select {
	case e := <-ch2:
		assert.Equal(t, contract.EventID("e1"), e.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 did not receive event")
	}
}

func TestSlowSubscriberDoesNotBlockAppend(t *testing.T) {
	log := NewLog(discardLogger(), nil)
	_, unsubscribe := log.Subscribe() // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			log.Append(contract.Event{ID: contract.EventID(string(rune(i % 26)))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsForwarder(t *testing.T) {
	log := NewLog(discardLogger(), nil)
	ch, unsubscribe := log.Subscribe()
	unsubscribe()

	_, stillOpen := <-ch
	assert.False(t, stillOpen)
}
