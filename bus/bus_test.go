package bus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nyxmon-go/agent/bus"
)

type pingCommand struct{}

func (pingCommand) CommandName() string { return "ping" }

type thingHappened struct{}

func (thingHappened) EventName() string { return "thing_happened" }

func TestDispatch_UnknownCommandFailsFast(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	err := b.Dispatch(context.Background(), pingCommand{})
	require.Error(t, err)
	var unknown *bus.ErrUnknownCommand
	assert.ErrorAs(t, err, &unknown)
}

func TestDispatch_InvokesRegisteredHandler(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	called := false
	b.HandleCommand("ping", func(ctx context.Context, cmd bus.Command) error {
		called = true
		return nil
	})

	err := b.Dispatch(context.Background(), pingCommand{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestPublish_FansOutToAllListenersEvenIfOneFails(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	var calls []int
	b.Listen("thing_happened", func(ctx context.Context, e bus.Event) error {
		calls = append(calls, 1)
		return errors.New("boom")
	})
	b.Listen("thing_happened", func(ctx context.Context, e bus.Event) error {
		calls = append(calls, 2)
		return nil
	})

	b.Publish(context.Background(), thingHappened{})
	assert.Equal(t, []int{1, 2}, calls)
}

func TestPublish_NoListenersIsANoop(t *testing.T) {
	b := bus.New(zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		b.Publish(context.Background(), thingHappened{})
	})
}
