// Package alerts pushes operator notifications over Telegram. Alert delivery
// is fire-and-forget: a broken bot never blocks the event pipeline.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/actionbridge/internal/bus"
)

// Notifier forwards selected bus events to a Telegram chat.
type Notifier struct {
	token    string
	chatID   int64
	logger   *slog.Logger
	eventBus *bus.Bus
	bot      *tgbotapi.BotAPI

	// threshold is the auth failure count per client that triggers an alert.
	threshold int

	mu       sync.Mutex
	failures map[string]int
	subs     []*bus.Subscription
}

func NewNotifier(token string, chatID int64, threshold int, eventBus *bus.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		token:     token,
		chatID:    chatID,
		threshold: threshold,
		eventBus:  eventBus,
		logger:    logger,
		failures:  make(map[string]int),
	}
}

// Start connects the bot and subscribes to alert-worthy topics.
func (n *Notifier) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(n.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	n.bot = bot
	n.logger.Info("alert notifier started", "user", bot.Self.UserName)

	killSub := n.eventBus.Subscribe(bus.TopicKillSwitchChanged)
	authSub := n.eventBus.Subscribe(bus.TopicAuthFailed)
	n.subs = append(n.subs, killSub, authSub)

	go func() {
		defer n.eventBus.Unsubscribe(killSub)
		defer n.eventBus.Unsubscribe(authSub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-killSub.Ch():
				if ks, ok := ev.Payload.(bus.KillSwitchEvent); ok {
					state := "DISENGAGED"
					if ks.Active {
						state = "ENGAGED"
					}
					n.send(fmt.Sprintf("Kill switch %s. Automated actions are %s.",
						state, map[bool]string{true: "halted", false: "resumed"}[ks.Active]))
				}
			case ev := <-authSub.Ch():
				if se, ok := ev.Payload.(bus.SessionEvent); ok {
					n.recordAuthFailure(se.ClientID)
				}
			}
		}
	}()
	return nil
}

func (n *Notifier) recordAuthFailure(clientID string) {
	n.mu.Lock()
	n.failures[clientID]++
	count := n.failures[clientID]
	trip := count == n.threshold
	n.mu.Unlock()

	if trip {
		n.send(fmt.Sprintf("Repeated authentication failures from %q (%d attempts). Check the shared secret or block the client.", clientID, count))
	}
}

func (n *Notifier) send(text string) {
	if n.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("alert delivery failed", "error", err)
	}
}
