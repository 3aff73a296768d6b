package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/internal/errs"
)

func TestProduceOrdersAndCloses(t *testing.T) {
	ch := Produce(context.Background(), func(send func(Event) bool) Event {
		for _, s := range []string{"a", "b", "c"} {
			if !send(TextDelta(s)) {
				return Event{}
			}
		}
		return DoneEvent(Finish{})
	})
	evs := Drain(context.Background(), ch)
	require.Len(t, evs, 4)
	assert.Equal(t, "a", evs[0].Text)
	assert.Equal(t, "c", evs[2].Text)
	assert.Equal(t, EventDone, evs[3].Kind)
	assert.Equal(t, "stop", evs[3].Finish.Reason)
	_, open := <-ch
	assert.False(t, open)
}

func TestProduceSubstitutesDoneForNonTerminal(t *testing.T) {
	ch := Produce(context.Background(), func(send func(Event) bool) Event {
		return TextDelta("oops")
	})
	evs := Drain(context.Background(), ch)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDone, evs[0].Kind)
}

func TestProduceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	ch := Produce(ctx, func(send func(Event) bool) Event {
		defer close(stopped)
		for send(TextDelta("x")) {
		}
		return DoneEvent(Finish{})
	})
	<-ch
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not stop after cancel")
	}
}

func TestDrainReportsCancellation(t *testing.T) {
	ch := make(chan Event)
	close(ch)
	evs := Drain(context.Background(), ch)
	require.Len(t, evs, 1)
	assert.True(t, errs.IsCancellation(evs[0].Err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	evs = Drain(ctx, make(chan Event))
	require.Len(t, evs, 1)
	assert.Equal(t, EventError, evs[0].Kind)
}

func TestErrorEventIsTerminal(t *testing.T) {
	assert.True(t, ErrorEvent(errors.New("x")).Terminal())
	assert.True(t, ToolCallEvent(ToolCall{Name: "f"}).Terminal())
	assert.False(t, TextDelta("x").Terminal())
}
