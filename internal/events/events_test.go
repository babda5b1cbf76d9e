package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeFiltersByType(t *testing.T) {
	bus := NewBus()

	var all, sweeps []EventType
	bus.Subscribe(func(e *Event) { all = append(all, e.Type) })
	bus.Subscribe(func(e *Event) { sweeps = append(sweeps, e.Type) }, SweepStarted, SweepCompleted)

	bus.Emit(SweepStarted, "sweep", &SweepStatusData{Status: "started"})
	bus.Emit(BacktestCompleted, "engine", &BacktestCompletedData{})
	bus.Emit(SweepCompleted, "sweep", &SweepStatusData{Status: "completed"})

	assert.Equal(t, []EventType{SweepStarted, BacktestCompleted, SweepCompleted}, all)
	assert.Equal(t, []EventType{SweepStarted, SweepCompleted}, sweeps)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(func(*Event) { count++ })
	keep := bus.Subscribe(func(*Event) {})
	defer keep()

	bus.Emit(PortfolioBuilt, "engine", &PortfolioBuiltData{})
	unsubscribe()
	unsubscribe()
	bus.Emit(PortfolioBuilt, "engine", &PortfolioBuiltData{})

	assert.Equal(t, 1, count)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	received := 0
	bus.Subscribe(func(*Event) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(SweepProgress, "sweep", &SweepStatusData{Status: "progress"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, received)
}

func TestManager_Emit(t *testing.T) {
	bus := NewBus()
	m := NewManager(bus, zerolog.Nop())

	var got []*Event
	bus.Subscribe(func(e *Event) { got = append(got, e) })

	m.Emit("sweep", &SweepStatusData{SweepID: "s1", Status: "cancelled"})
	m.EmitError("engine", errors.New("boom"), map[string]interface{}{"backtest_id": "b1"})

	require.Len(t, got, 2)
	assert.Equal(t, SweepCancelled, got[0].Type)
	assert.Equal(t, "sweep", got[0].Module)
	assert.Equal(t, ErrorOccurred, got[1].Type)
	assert.Equal(t, "boom", got[1].Data.(*ErrorEventData).Error)

	var nilManager *Manager
	assert.NotPanics(t, func() { nilManager.Emit("x", &PortfolioBuiltData{}) })
}

func TestSweepEventType(t *testing.T) {
	tests := map[string]EventType{
		"started":   SweepStarted,
		"progress":  SweepProgress,
		"completed": SweepCompleted,
		"cancelled": SweepCancelled,
		"failed":    SweepFailed,
		"unknown":   SweepStarted,
	}
	for status, want := range tests {
		assert.Equal(t, want, SweepEventType(status), status)
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	original := &Event{
		Type:   SweepProgress,
		Module: "sweep",
		Data: &SweepStatusData{
			SweepID:  "abc",
			Status:   "progress",
			Progress: &SweepProgressInfo{Completed: 2, Total: 5, Scenario: "tight"},
		},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sweep_id":"abc"`)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	data, ok := decoded.Data.(*SweepStatusData)
	require.True(t, ok)
	assert.Equal(t, 2, data.Progress.Completed)
	assert.Equal(t, "tight", data.Progress.Scenario)

	err = json.Unmarshal([]byte(`{"type":"NOPE","data":{"x":1}}`), &decoded)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"SWEEP_STARTED"}`), &decoded))
	assert.Nil(t, decoded.Data)
}
