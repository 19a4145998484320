package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStartup(maxAttempts int) *Startup {
	s := NewStartup(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), maxAttempts)
	s.backoffUnit = time.Millisecond
	return s
}

func recorder(events *[]string, name string, parents ...string) *Func {
	return &Func{
		Name:      name,
		Parents:   parents,
		StartFunc: func(context.Context) error { *events = append(*events, "start "+name); return nil },
		StopFunc:  func(context.Context) error { *events = append(*events, "stop "+name); return nil },
	}
}

func TestStart_DependencyOrder(t *testing.T) {
	var events []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&events, "queue", "redis", "database"))
	s.AddDependency(recorder(&events, "database"))
	s.AddDependency(recorder(&events, "redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start redis", "start database", "start queue"}, events)

	events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop queue", "stop database", "stop redis"}, events)
	assert.Equal(t, StartupStatusStopped, s.Status("queue"))
}

func TestStart_InPhases(t *testing.T) {
	var events []string
	s := newTestStartup(1)
	s.AddDependency(recorder(&events, "redis"))
	require.NoError(t, s.Start(context.Background()))

	s.AddDependency(recorder(&events, "scheduler", "redis"))
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []string{"start redis", "start scheduler"}, events)
	assert.Equal(t, StartupStatusStarted, s.Status("scheduler"))
}

func TestStart_RetriesFailedDependency(t *testing.T) {
	var events []string
	calls := 0
	s := newTestStartup(3)
	s.AddDependency(recorder(&events, "database"))
	s.AddDependency(&Func{
		Name:    "redis",
		Parents: []string{"database"},
		StartFunc: func(context.Context) error {
			calls++
			if calls < 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"start database"}, events)
	assert.Equal(t, StartupStatusStarted, s.Status("redis"))
}

func TestStart_GivesUp(t *testing.T) {
	s := newTestStartup(2)
	s.AddDependency(&Func{Name: "kafka", StartFunc: func(context.Context) error { return errors.New("down") }})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, StartupStatusFailed, s.Status("kafka"))
}

func TestStart_UnknownAndCycle(t *testing.T) {
	s := newTestStartup(1)
	s.AddDependency(&Func{Name: "a", Parents: []string{"missing"}})
	assert.ErrorContains(t, s.Start(context.Background()), "unknown startup dependency 'missing'")

	s = newTestStartup(1)
	s.AddDependency(&Func{Name: "a", Parents: []string{"b"}})
	s.AddDependency(&Func{Name: "b", Parents: []string{"a"}})
	assert.ErrorContains(t, s.Start(context.Background()), "cycle")
}
