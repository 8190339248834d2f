// Package bus implements the synchronous message bus described in
// spec §4.E: a Command has exactly one handler and fails fast if none
// is registered; an Event fans out to zero or more listeners, and a
// listener's failure is logged but never aborts the batch or blocks
// other listeners. Dispatch is FIFO within a single originating call.
package bus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Command is a request with exactly one handler.
type Command interface {
	CommandName() string
}

// Event is a fact that zero or more listeners may react to.
type Event interface {
	EventName() string
}

// CommandHandler processes a Command.
type CommandHandler func(ctx context.Context, cmd Command) error

// EventListener reacts to an Event. A listener error is logged by the
// bus and does not propagate to the dispatcher or to other listeners.
type EventListener func(ctx context.Context, event Event) error

// ErrUnknownCommand is returned by Dispatch when no handler is
// registered for a Command's name.
type ErrUnknownCommand struct {
	Name string
}

func (e *ErrUnknownCommand) Error() string {
	return fmt.Sprintf("bus: no handler registered for command %q", e.Name)
}

// Bus is a synchronous, single-process command/event dispatcher.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[string]CommandHandler
	listeners map[string][]EventListener
	logger    *zap.Logger
}

// New builds an empty Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{
		handlers:  make(map[string]CommandHandler),
		listeners: make(map[string][]EventListener),
		logger:    logger,
	}
}

// HandleCommand registers the single handler for a command name.
// Registering the same name twice replaces the previous handler.
func (b *Bus) HandleCommand(name string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
}

// Listen registers an additional listener for an event name. Listeners
// for the same name run in registration order.
func (b *Bus) Listen(name string, listener EventListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[name] = append(b.listeners[name], listener)
}

// Dispatch invokes the single handler for cmd, failing fast if none is
// registered.
func (b *Bus) Dispatch(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	handler, ok := b.handlers[cmd.CommandName()]
	b.mu.RUnlock()

	if !ok {
		return &ErrUnknownCommand{Name: cmd.CommandName()}
	}
	return handler(ctx, cmd)
}

// Publish fans event out to every registered listener in registration
// order. A listener's error is logged; it never aborts the fan-out or
// propagates to the caller.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	listeners := append([]EventListener(nil), b.listeners[event.EventName()]...)
	b.mu.RUnlock()

	for _, listener := range listeners {
		if err := listener(ctx, event); err != nil && b.logger != nil {
			b.logger.Error("event listener failed",
				zap.String("event", event.EventName()), zap.Error(err))
		}
	}
}
