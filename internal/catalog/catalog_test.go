package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acmeAgents = `
agents:
  - id: sdr-acme
    companyId: acme
    name: SDR Acme
    widgetToken: tok-acme
    headerColor: "#0044ff"
    behavior:
      companyName: Acme
      strategicQuestions:
        - Qual o seu maior desafio hoje?
      calendarConfig:
        slotDuration: 30
  - id: retired
    companyId: acme
    name: Old agent
    widgetToken: tok-old
    active: false
availability:
  - companyId: acme
    dayOfWeek: 1
    startTime: "09:00"
    endTime: "12:00"
    slotDuration: 60
    active: true
`

type memorySink struct {
	mu      sync.Mutex
	windows map[string]domain.AvailabilityWindow
}

func (m *memorySink) UpsertAvailability(_ context.Context, w *domain.AvailabilityWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.windows == nil {
		m.windows = make(map[string]domain.AvailabilityWindow)
	}
	m.windows[w.ID] = *w
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadResolvesAgents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tenants", "acme.yaml"), acmeAgents)
	writeFile(t, filepath.Join(dir, "globex.yml"), "agents:\n  - id: sdr-globex\n    companyId: globex\n")
	sink := &memorySink{}

	c, err := Load(context.Background(), filepath.Join(dir, "**", "*.{yaml,yml}"), sink, nil)
	require.NoError(t, err)

	agent, ok := c.Agent("sdr-acme")
	require.True(t, ok)
	assert.Equal(t, "Acme", agent.Behavior.CompanyName)
	assert.Equal(t, 30, agent.Behavior.AppointmentDuration())
	assert.Equal(t, domain.StateInitializing, agent.FSM.InitialState, "reference topology is the default")
	assert.True(t, agent.Behavior.CalendarEnabled())

	byToken, ok := c.AgentByWidgetToken("tok-acme")
	require.True(t, ok)
	assert.Same(t, agent, byToken)

	_, ok = c.Agent("retired")
	assert.False(t, ok, "inactive agents are hidden")
	_, ok = c.AgentByWidgetToken("tok-old")
	assert.False(t, ok)

	_, ok = c.Agent("sdr-globex")
	assert.True(t, ok)
	assert.Len(t, c.Agents(), 3)

	require.Len(t, sink.windows, 1)
	for id, w := range sink.windows {
		assert.Equal(t, "acme--1-09:00", id)
		assert.Equal(t, 1, w.DayOfWeek)
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing company": "agents:\n  - id: a\n",
		"duplicate id":    "agents:\n  - id: a\n    companyId: x\n  - id: a\n    companyId: x\n",
		"unknown initial": "agents:\n  - id: a\n    companyId: x\n    fsm:\n      initialState: NOPE\n      states:\n        - id: START\n",
		"bad yaml":        "agents: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "agents.yaml"), content)
			_, err := Load(context.Background(), filepath.Join(dir, "*.yaml"), nil, nil)
			assert.Error(t, err)
		})
	}

	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "*.yaml"), nil, nil)
	assert.ErrorIs(t, err, errNoAgentFiles)
}

func TestWatchReloadsOnChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	writeFile(t, path, "agents:\n  - id: a\n    companyId: x\n    name: before\n")

	c, err := Load(context.Background(), filepath.Join(dir, "*.yaml"), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the watcher register the directory, then write once so the
	// debounce window can elapse.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - id: a\n    companyId: x\n    name: after\n"), 0o644))

	require.Eventually(t, func() bool {
		a, ok := c.Agent("a")
		return ok && a.Name == "after"
	}, 5*time.Second, 100*time.Millisecond)
}
