package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_PublishAndDrain(t *testing.T) {
	q := NewQueue(2)
	runID := NewRunID()

	q.Publish(Event{RunID: runID, Kind: TableStarted, Table: "dbo.Customer"})
	q.Publish(Event{RunID: runID, Kind: TableCompleted, Table: "dbo.Customer"})
	q.Close()

	var got []Kind
	for e := range q.Events() {
		got = append(got, e.Kind)
	}
	assert.Equal(t, []Kind{TableStarted, TableCompleted}, got)
}

func TestQueue_PublishDropsWhenFull(t *testing.T) {
	q := NewQueue(1)
	q.Publish(Event{Kind: TableStarted, Table: "a"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Publish(Event{Kind: TableStarted, Table: "b"}) // must not block
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestNewRunID_Unique(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.NotEqual(t, a, b)
}
