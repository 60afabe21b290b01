// Package notify alerts dealership staff about test drives over Telegram.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"vehiql/internal/booking"
	"vehiql/internal/events"
	"vehiql/internal/model"
)

// Sender is the subset of *tgbotapi.BotAPI used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Directory resolves the car and customer of a booking.
type Directory interface {
	GetCar(ctx context.Context, id string) (*model.Car, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// NewBotSender connects to the Telegram Bot API.
func NewBotSender(token string) (Sender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return api, nil
}

// Notifier sends booking alerts to the admin chats.
type Notifier struct {
	sender  Sender
	dir     Directory
	chatIDs []int64
	queue   chan string
	logger  zerolog.Logger
}

func NewNotifier(sender Sender, dir Directory, chatIDs []int64, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		dir:     dir,
		chatIDs: chatIDs,
		queue:   make(chan string, 64),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Subscribe registers the notifier on the bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(booking.EventBooked, n.HandleEvent)
	bus.Subscribe(booking.EventStatusChanged, n.HandleEvent)
}

// HandleEvent formats a booking event and queues it for delivery.
func (n *Notifier) HandleEvent(ev events.Event) error {
	text, err := n.format(context.Background(), ev)
	if err != nil {
		return err
	}
	select {
	case n.queue <- text:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropping %s", ev.Type)
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.queue:
			n.Broadcast(text)
		}
	}
}

// Broadcast sends text to every admin chat.
func (n *Notifier) Broadcast(text string) {
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send notification")
		}
	}
}

func (n *Notifier) format(ctx context.Context, ev events.Event) (string, error) {
	switch ev.Type {
	case booking.EventBooked:
		var b model.TestDriveBooking
		if err := json.Unmarshal(ev.Payload, &b); err != nil {
			return "", fmt.Errorf("decode booking: %w", err)
		}
		return n.describe(ctx, "New test drive request", &b, ""), nil

	case booking.EventStatusChanged:
		var c booking.StatusChange
		if err := json.Unmarshal(ev.Payload, &c); err != nil {
			return "", fmt.Errorf("decode status change: %w", err)
		}
		title := fmt.Sprintf("Test drive %s", strings.ToLower(string(c.To)))
		extra := fmt.Sprintf("Status: %s -> %s (by %s)", c.From, c.To, c.Actor)
		return n.describe(ctx, title, &c.Booking, extra), nil
	}
	return "", fmt.Errorf("unexpected event %s", ev.Type)
}

func (n *Notifier) describe(ctx context.Context, title string, b *model.TestDriveBooking, extra string) string {
	carName := b.CarID
	if car, err := n.dir.GetCar(ctx, b.CarID); err == nil {
		carName = car.Title()
	}
	customer := b.UserID
	if u, err := n.dir.GetUser(ctx, b.UserID); err == nil {
		customer = u.Name
		if u.Email != "" {
			customer += " <" + u.Email + ">"
		}
	}

	var sb strings.Builder
	sb.WriteString(title + "\n\n")
	sb.WriteString("Car: " + carName + "\n")
	sb.WriteString("Customer: " + customer + "\n")
	sb.WriteString(fmt.Sprintf("When: %s %s-%s\n", b.Date(), b.StartTime, b.EndTime))
	if b.Notes != "" {
		sb.WriteString("Notes: " + b.Notes + "\n")
	}
	if extra != "" {
		sb.WriteString(extra + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
