package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondemand-ai/browser-agent/internal/llm"
)

func storedRun(id string, startedAt time.Time) *Run {
	return &Run{
		ID:        id,
		Prompt:    "task " + id,
		MaxSteps:  5,
		StartedAt: startedAt,
		Status:    StatusRunning,
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Put(storedRun("r1", time.Now()))
	s.AppendStep("r1", Step{Index: 0, URL: "https://example.com"})

	got, ok := s.Get("r1")
	require.True(t, ok)
	got.Steps[0].URL = "mutated"
	got.Status = StatusFailed

	again, _ := s.Get("r1")
	assert.Equal(t, "https://example.com", again.Steps[0].URL)
	assert.Equal(t, StatusRunning, again.Status)
}

func TestStoreListNewestFirst(t *testing.T) {
	s := NewStore()
	base := time.Now()
	s.Put(storedRun("old", base.Add(-time.Hour)))
	s.Put(storedRun("new", base))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "old", list[1].ID)
}

func TestStoreSubscribeReceivesStepsAndClose(t *testing.T) {
	s := NewStore()
	s.Put(storedRun("r1", time.Now()))

	ch, cancel := s.Subscribe("r1")
	defer cancel()

	step := Step{Index: 0, Action: llm.Action{Type: llm.ActionScroll}}
	s.AppendStep("r1", step)
	s.Finish("r1", func(r *Run) { r.Status = StatusSucceeded })

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventStep, ev.Type)
	require.NotNil(t, ev.Step)
	assert.Equal(t, 0, ev.Step.Index)

	ev, ok = <-ch
	require.True(t, ok)
	assert.Equal(t, EventFinished, ev.Type)
	assert.Equal(t, StatusSucceeded, ev.Status)

	_, ok = <-ch
	assert.False(t, ok, "channel closes after the finished event")
}

func TestStoreSubscribeFinishedRunClosesImmediately(t *testing.T) {
	s := NewStore()
	r := storedRun("r1", time.Now())
	r.Status = StatusSucceeded
	s.Put(r)

	ch, cancel := s.Subscribe("r1")
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStoreSubscribeUnknownRunClosesImmediately(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Subscribe("missing")
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestStoreSubscribeCancelStopsDelivery(t *testing.T) {
	s := NewStore()
	s.Put(storedRun("r1", time.Now()))

	ch, cancel := s.Subscribe("r1")
	cancel()

	s.AppendStep("r1", Step{Index: 0})
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("received %v after cancel", ev)
		}
	default:
	}
}

func TestAssemble(t *testing.T) {
	started := time.Now().Add(-3 * time.Second)
	r := &Run{
		ID:         "r1",
		Status:     StatusSucceeded,
		Result:     "done",
		VideoURL:   "/videos/r1.mp4",
		StartedAt:  started,
		FinishedAt: started.Add(2500 * time.Millisecond),
		Steps: []Step{
			{Index: 0, Outcome: Outcome{OK: true}},
			{Index: 1, Outcome: Outcome{OK: true, Terminal: true}},
		},
	}

	res := Assemble(r)
	assert.Equal(t, "r1", res.RunID)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.StepsTaken)
	assert.Equal(t, int64(2500), res.DurationMS)
	assert.Equal(t, "/videos/r1.mp4", res.VideoURL)
}

func TestAssembleUnfinishedRunHasNoDuration(t *testing.T) {
	res := Assemble(&Run{ID: "r1", Status: StatusRunning, StartedAt: time.Now()})
	assert.Equal(t, int64(0), res.DurationMS)
	assert.NotNil(t, res.Steps, "steps serialize as an empty array, not null")
	assert.Equal(t, 0, res.StepsTaken)
}
