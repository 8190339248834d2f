// Package notifier implements the stateless listener described in
// spec §4.H: it subscribes to CheckFailed and ServiceStatusChanged and
// fans each transition out to its configured sinks. A logging sink is
// always present; an optional Telegram sink can be enabled via
// --enable-telegram, gated by TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID, and
// is itself rate-limited so a flapping check cannot spam the chat.
package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	nyxmon "github.com/nyxmon-go/agent"
	"github.com/nyxmon-go/agent/bus"
	"github.com/nyxmon-go/agent/handlers"
)

// Sink delivers a rendered notification message. A Sink's error is
// logged by the Notifier and never propagates: per spec, notifier
// errors are logged only and do not affect check execution or
// scheduling.
type Sink interface {
	Notify(ctx context.Context, message string) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(ctx context.Context, message string) error

func (f SinkFunc) Notify(ctx context.Context, message string) error { return f(ctx, message) }

// Notifier subscribes to the bus and renders each transition into a
// notification payload for every configured sink. It holds no
// per-check state of its own: each event carries everything needed to
// render its message.
type Notifier struct {
	sinks  []Sink
	logger *zap.Logger
}

// New builds a Notifier and subscribes it to check_failed and
// service_status_changed on b.
func New(b *bus.Bus, logger *zap.Logger, sinks ...Sink) *Notifier {
	n := &Notifier{sinks: sinks, logger: logger}
	b.Listen("check_failed", n.onCheckFailed)
	b.Listen("service_status_changed", n.onServiceStatusChanged)
	return n
}

func (n *Notifier) onCheckFailed(ctx context.Context, event bus.Event) error {
	e, ok := event.(handlers.CheckFailed)
	if !ok {
		return nil
	}
	message := fmt.Sprintf("check failed: %s (%s) target=%s status=%s payload=%v",
		e.Check.Name, e.Check.Kind, e.Check.Target, e.DerivedStatus, e.Result.Payload)
	n.fanOut(ctx, message)
	return nil
}

func (n *Notifier) onServiceStatusChanged(ctx context.Context, event bus.Event) error {
	e, ok := event.(handlers.ServiceStatusChanged)
	if !ok {
		return nil
	}
	message := fmt.Sprintf("service %s status changed: %s -> %s", e.ServiceID, e.Old, e.New)
	n.fanOut(ctx, message)
	return nil
}

func (n *Notifier) fanOut(ctx context.Context, message string) {
	for _, sink := range n.sinks {
		if err := sink.Notify(ctx, message); err != nil {
			n.logger.Error("notifier: sink failed", zap.Error(err))
		}
	}
}

// LoggingSink is always present; it writes every notification to the
// structured logger at info level, so there is a durable record of
// every transition even when no chat sink is configured.
func LoggingSink(logger *zap.Logger) Sink {
	return SinkFunc(func(ctx context.Context, message string) error {
		logger.Info("notification", zap.String("message", message))
		return nil
	})
}

// telegramSender is the subset of *telego.Bot this package depends on,
// narrowed so tests can substitute a fake and never touch the network.
type telegramSender interface {
	SendMessage(params *telego.SendMessageParams) (*telego.Message, error)
}

// TelegramSink sends message to a fixed chat via a bot token, rate
// limited to avoid spamming the chat during a flapping check. It is
// only constructed when --enable-telegram is set and both
// TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are present in the
// environment (see cmd/agent).
type TelegramSink struct {
	bot     telegramSender
	chatID  int64
	limiter *rate.Limiter
}

// NewTelegramSink constructs a TelegramSink, allowing at most one
// message per minInterval with a burst of 1.
func NewTelegramSink(token string, chatID int64, minInterval time.Duration) (*TelegramSink, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("notifier: create telegram bot: %w", err)
	}
	return newTelegramSink(bot, chatID, minInterval), nil
}

func newTelegramSink(bot telegramSender, chatID int64, minInterval time.Duration) *TelegramSink {
	return &TelegramSink{
		bot:     bot,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

func (s *TelegramSink) Notify(ctx context.Context, message string) error {
	if !s.limiter.Allow() {
		return fmt.Errorf("notifier: telegram rate limit exceeded, dropping notification")
	}
	_, err := s.bot.SendMessage(tu.Message(tu.ID(s.chatID), message))
	if err != nil {
		return fmt.Errorf("notifier: send telegram message: %w", err)
	}
	return nil
}
