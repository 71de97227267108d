package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ondemand-ai/browser-agent/internal/browser"
	"github.com/ondemand-ai/browser-agent/internal/llm"
	"github.com/ondemand-ai/browser-agent/internal/video"
)

func testSettings(t *testing.T) Settings {
	t.Helper()
	return Settings{
		DefaultMaxSteps: 10,
		MaxStepsLimit:   20,
		MaxRunDuration:  30 * time.Second,
		Engine:          browser.KindStandard,
		Headless:        true,
		ScanDir:         t.TempDir(),
	}
}

func newTestController(t *testing.T, prov browser.Provisioner, backend llm.Backend, fin Finalizer, settings Settings) (*Controller, *Store) {
	t.Helper()
	store := NewStore()
	resolver := &fakeResolver{backend: backend}
	c := NewController(resolver, prov, fin, store, settings, zap.NewNop())
	return c, store
}

func TestExecuteSucceedsOnFinish(t *testing.T) {
	sess := newFakeSession(map[string]fakePage{
		"https://example.com": {
			title: "Example Domain",
			tree:  `[1] <a label="More information...">`,
		},
	})
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{script: []scriptedDecision{
		decide(llm.Action{Type: llm.ActionNavigate, URL: "example.com"}),
		decide(llm.Action{Type: llm.ActionExtract, Text: "Example Domain"}),
		decide(llm.Action{Type: llm.ActionFinish, Text: `The page title is "Example Domain".`}),
	}}
	fin := &fakeFinalizer{}

	c, _ := newTestController(t, prov, backend, fin, testSettings(t))
	r, err := c.Execute(context.Background(), Request{
		Prompt:   "open example.com and report the page title",
		MaxSteps: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, StatusSucceeded, r.Status)
	assert.Empty(t, r.Error)
	assert.Contains(t, r.Result, "Example Domain")
	assert.LessOrEqual(t, len(r.Steps), 5)

	require.NotEmpty(t, r.Steps)
	for i, s := range r.Steps {
		assert.Equal(t, i, s.Index, "step indices must be contiguous from zero")
	}
	last := r.Steps[len(r.Steps)-1]
	assert.True(t, last.Outcome.Terminal, "only the last step may be terminal")
	for _, s := range r.Steps[:len(r.Steps)-1] {
		assert.False(t, s.Outcome.Terminal)
	}

	assert.Equal(t, "/videos/"+r.ID+".mp4", r.VideoURL)
	assert.Equal(t, 0, prov.Active(), "session must be released")
	assert.Equal(t, 1, prov.Acquires())
	assert.False(t, r.FinishedAt.IsZero())
}

func TestExecuteStepExhausted(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	// An empty script keeps scrolling forever, so the budget is what stops it.
	backend := &scriptedBackend{summary: "could not finish the task in time"}

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "scroll forever", MaxSteps: 3})
	require.NoError(t, err)

	assert.Equal(t, StatusStepExhausted, r.Status)
	require.Len(t, r.Steps, 3, "exactly max_steps steps recorded")
	for _, s := range r.Steps {
		assert.False(t, s.Outcome.Terminal)
	}
	assert.Equal(t, "could not finish the task in time", r.Result)
	assert.Equal(t, 0, prov.Active())
}

func TestExecuteMaxStepsClamped(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	settings := testSettings(t)
	settings.MaxStepsLimit = 2

	c, _ := newTestController(t, prov, &scriptedBackend{summary: "s"}, &fakeFinalizer{}, settings)
	r, err := c.Execute(context.Background(), Request{Prompt: "go", MaxSteps: 500})
	require.NoError(t, err)

	assert.Equal(t, StatusStepExhausted, r.Status)
	assert.Len(t, r.Steps, 2)
	assert.Equal(t, 2, r.MaxSteps)
}

func TestExecuteRejectsUnknownModelBeforeProvisioning(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	store := NewStore()
	resolver := &fakeResolver{err: llm.ErrUnknownModel}
	c := NewController(resolver, prov, &fakeFinalizer{}, store, testSettings(t), zap.NewNop())

	r, err := c.Execute(context.Background(), Request{Prompt: "go", Model: "gpt-99"})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnknownModel)
	assert.Nil(t, r)
	assert.Equal(t, 0, prov.Acquires(), "no browser may be allocated for a rejected model")
	assert.Empty(t, store.List())
}

func TestExecuteProvisioningFailure(t *testing.T) {
	prov := &fakeProvisioner{err: browser.ErrProvision}

	c, _ := newTestController(t, prov, &scriptedBackend{}, &fakeFinalizer{}, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err, "post-acceptance failures surface in the run, not the error")

	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "provisioning")
	assert.Empty(t, r.Steps)
	assert.Equal(t, 0, prov.Active())
}

func TestExecuteFailsAfterBackendRetryExhausted(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	backendErr := errors.New("model unreachable")
	backend := &scriptedBackend{script: []scriptedDecision{
		{err: backendErr},
		{err: backendErr},
	}}

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "go", MaxSteps: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "model unreachable")
	assert.Equal(t, 0, prov.Active(), "session released after mid-run failure")
}

func TestExecuteRecoversFromSingleBackendError(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{script: []scriptedDecision{
		{err: errors.New("transient")},
		decide(llm.Action{Type: llm.ActionFinish, Text: "done"}),
	}}

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "go", MaxSteps: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, r.Status)
	require.Len(t, r.Steps, 1)
}

func TestExecuteFailsAfterConsecutiveActionFailures(t *testing.T) {
	sess := newFakeSession(nil)
	sess.clickErr = errors.New("node detached")
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{
		script: []scriptedDecision{
			decide(llm.Action{Type: llm.ActionClick, TargetID: 1}),
			decide(llm.Action{Type: llm.ActionClick, TargetID: 2}),
			decide(llm.Action{Type: llm.ActionClick, TargetID: 3}),
			decide(llm.Action{Type: llm.ActionClick, TargetID: 4}),
		},
		summary: "clicking never worked",
	}

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "go", MaxSteps: 10})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "consecutive")
	assert.Len(t, r.Steps, maxConsecutiveFailures)
	assert.Equal(t, 0, prov.Active())
}

func TestExecuteTimesOut(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{block: true}
	settings := testSettings(t)
	settings.MaxRunDuration = 100 * time.Millisecond

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, settings)
	start := time.Now()
	r, err := c.Execute(context.Background(), Request{Prompt: "stall forever", MaxSteps: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusTimedOut, r.Status)
	assert.Less(t, time.Since(start), 5*time.Second, "timeout must cut the run short")
	assert.Empty(t, r.Steps)
	assert.Equal(t, 0, prov.Active(), "session released after timeout")
}

func TestExecuteEncodingFailureKeepsStatus(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{script: []scriptedDecision{
		decide(llm.Action{Type: llm.ActionFinish, Text: "done"}),
	}}
	fin := &fakeFinalizer{err: video.ErrEncoding}

	c, _ := newTestController(t, prov, backend, fin, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "go", MaxSteps: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, r.Status, "encoding failure never changes the run status")
	assert.Empty(t, r.VideoURL)
	assert.Equal(t, 1, fin.calls)
	assert.Equal(t, 0, prov.Active())
}

func TestExecuteSnapshotFailureFailsRun(t *testing.T) {
	sess := newFakeSession(nil)
	sess.snapErrAt = 2
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{}

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, testSettings(t))
	r, err := c.Execute(context.Background(), Request{Prompt: "go", MaxSteps: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Error, "snapshot failed")
	assert.Len(t, r.Steps, 1, "the first step succeeded before the browser died")
	assert.Equal(t, 0, prov.Active())
}

func TestExecuteDefaultsApplied(t *testing.T) {
	sess := newFakeSession(nil)
	prov := &fakeProvisioner{sess: sess}
	backend := &scriptedBackend{script: []scriptedDecision{
		decide(llm.Action{Type: llm.ActionFinish, Text: "done"}),
	}}
	settings := testSettings(t)
	settings.DefaultMaxSteps = 7
	settings.Engine = browser.KindStealth

	c, _ := newTestController(t, prov, backend, &fakeFinalizer{}, settings)
	r, err := c.Execute(context.Background(), Request{Prompt: "go"})
	require.NoError(t, err)

	assert.Equal(t, 7, r.MaxSteps)
	assert.Equal(t, string(browser.KindStealth), r.Engine)
}
