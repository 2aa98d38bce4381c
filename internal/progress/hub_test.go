package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func validEvent(stage Stage) Event {
	return Event{
		RunID:  "run-1",
		TS:     time.Now().UTC(),
		Stage:  stage,
		Handle: 1294015297,
	}
}

func TestHub_DeliversEventsInOrder(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{FlushInterval: 10 * time.Millisecond}, sink)

	stages := []Stage{StageRunStart, StagePrimaryReady, StageRelatedReady, StageScored, StageRunDone}
	for _, stage := range stages {
		hub.Emit(validEvent(stage))
	}
	require.NoError(t, hub.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, len(stages))
	for i, stage := range stages {
		require.Equal(t, stage, got[i].Stage)
	}
	require.True(t, sink.closed)
}

func TestHub_DiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)

	hub.Emit(Event{Stage: StageRunStart}) // missing run id and timestamp
	hub.Emit(validEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, sink.snapshot(), 1)
}

func TestHub_EmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{}, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageRunStart))
	require.Empty(t, sink.snapshot())
}

func TestHub_NilSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(validEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	evt := validEvent(StageRunStart)
	require.NoError(t, evt.Validate())

	missingID := evt
	missingID.RunID = ""
	require.Error(t, missingID.Validate())

	missingTS := evt
	missingTS.TS = time.Time{}
	require.Error(t, missingTS.Validate())

	unknown := evt
	unknown.Stage = "WAT"
	require.Error(t, unknown.Validate())

	runErr := evt
	runErr.Stage = StageRunError
	require.Error(t, runErr.Validate(), "run error without a note should fail")
	runErr.Note = "model unreachable"
	require.NoError(t, runErr.Validate())

	negDur := evt
	negDur.Dur = -time.Second
	require.Error(t, negDur.Validate())
}
