package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/hvacops/internal/config"
	"github.com/Additional-Code/hvacops/internal/messaging"
)

func workerConfig(enabled bool) config.Config {
	return config.Config{Messaging: config.Messaging{
		Enabled: true,
		Workers: config.Worker{Enabled: enabled, Concurrency: 2},
	}}
}

func TestEngineDispatchesByTopic(t *testing.T) {
	bus := messaging.NewMemoryClient("events", 16)
	var handled atomic.Int32
	engine := NewEngine(Params{
		Client: bus,
		Logger: zap.NewNop(),
		Config: workerConfig(true),
		Registrations: []HandlerRegistration{
			{Topic: "events", Handler: func(context.Context, messaging.Message) error {
				handled.Add(1)
				return nil
			}},
			{Topic: "", Handler: nil},
		},
	})

	ctx := context.Background()
	require.NoError(t, engine.start(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(ctx, []byte("k"), []byte("v"), nil))
	}
	assert.Eventually(t, func() bool { return engine.Stats().Processed == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(5), handled.Load())

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, engine.stop(stopCtx))
}

func TestEngineCountsHandlerFailures(t *testing.T) {
	bus := messaging.NewMemoryClient("events", 4)
	engine := NewEngine(Params{
		Client: bus,
		Logger: zap.NewNop(),
		Config: workerConfig(true),
		Registrations: []HandlerRegistration{{Topic: "events", Handler: func(context.Context, messaging.Message) error {
			return errors.New("poison")
		}}},
	})
	ctx := context.Background()
	require.NoError(t, engine.start(ctx))
	require.NoError(t, bus.Publish(ctx, nil, []byte("x"), nil))
	assert.Eventually(t, func() bool { return bus.Failed() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, engine.stop(ctx))
}

func TestEngineDisabled(t *testing.T) {
	bus := messaging.NewMemoryClient("events", 4)
	engine := NewEngine(Params{Client: bus, Logger: zap.NewNop(), Config: workerConfig(false)})
	require.NoError(t, engine.start(context.Background()))
	require.NoError(t, engine.stop(context.Background()))

	require.NoError(t, bus.Publish(context.Background(), nil, []byte("x"), nil))
	assert.Equal(t, 1, bus.Pending())
}

func TestEngineSurvivesPanicsAndUnroutedTopics(t *testing.T) {
	bus := messaging.NewMemoryClient("events", 4)
	engine := NewEngine(Params{
		Client: bus,
		Config: workerConfig(true),
		Registrations: []HandlerRegistration{{Topic: "audit", Handler: func(context.Context, messaging.Message) error {
			panic("boom")
		}}},
	})
	ctx := context.Background()

	require.NoError(t, engine.dispatch(ctx, 0, messaging.Message{Topic: "events"}))
	err := engine.dispatch(ctx, 0, messaging.Message{Topic: "audit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, Stats{Failed: 1, Unrouted: 1}, engine.Stats())
}
