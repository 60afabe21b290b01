package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vehiql/internal/model"
)

// BookingLister lists bookings for the daily digest.
type BookingLister interface {
	ListBookings(ctx context.Context, filter model.BookingFilter) ([]model.TestDriveView, error)
}

// StartDigest sends tomorrow's schedule to the admin chats every day at hour in loc.
func (n *Notifier) StartDigest(ctx context.Context, lister BookingLister, loc *time.Location, hour int) {
	go func() {
		timer := time.NewTimer(timeUntilNextHour(time.Now().In(loc), hour))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				tomorrow := time.Now().In(loc).AddDate(0, 0, 1)
				if text, err := n.Digest(ctx, lister, tomorrow); err != nil {
					n.logger.Error().Err(err).Msg("build digest")
				} else if text != "" {
					n.Broadcast(text)
				}
				timer.Reset(timeUntilNextHour(time.Now().In(loc), hour))
			}
		}
	}()
}

// Digest lists the upcoming test drives of day. It is empty when there are none.
func (n *Notifier) Digest(ctx context.Context, lister BookingLister, day time.Time) (string, error) {
	list, err := lister.ListBookings(ctx, model.BookingFilter{Date: day.Format(model.DateLayout)})
	if err != nil {
		return "", fmt.Errorf("list bookings: %w", err)
	}

	var lines []string
	for _, b := range list {
		if !b.Status.IsUpcoming() {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s-%s %d %s %s, %s (%s)",
			b.StartTime, b.EndTime, b.Car.Year, b.Car.Make, b.Car.Model, b.User.Name, b.Status))
	}
	if len(lines) == 0 {
		return "", nil
	}
	return fmt.Sprintf("Test drives on %s:\n%s", day.Format(model.DateLayout), strings.Join(lines, "\n")), nil
}

func timeUntilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
