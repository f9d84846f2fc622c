// Package notify raises operational alerts about the sync engine, such as
// the live-update channel spending its retry budget. Alerts are typed
// events; the configured channels (Telegram, Discord) decide how to render
// them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event classifies an alert. The config's notify.events list selects which
// of these actually reach the senders.
type Event string

const (
	EventFeedFailed    Event = "feed_failed"
	EventFeedRecovered Event = "feed_recovered"
)

// Alert is one operational event on its way to the configured channels.
type Alert struct {
	Event   Event
	Summary string
	Detail  string

	// FeedState carries the live-channel state at the moment the alert
	// fired, when the alert concerns the channel.
	FeedState string

	At time.Time
}

// Body renders the sender-independent message text. Markup around the
// summary is each sender's business.
func (a Alert) Body() string {
	var b strings.Builder
	b.WriteString(a.Detail)
	if a.FeedState != "" {
		b.WriteString("\nchannel state: ")
		b.WriteString(a.FeedState)
	}
	b.WriteString("\nat ")
	b.WriteString(a.At.UTC().Format(time.RFC3339))
	return b.String()
}

// Sender is one delivery channel for alerts.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Notifier fans alerts out to every sender, filtered by event type. With no
// senders configured alerts only reach the log.
type Notifier struct {
	senders []Sender
	allowed map[Event]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. events
// lists the event types to forward; an empty list forwards everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		allowed[Event(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers one alert to every sender whose event filter admits it.
// A failing sender does not stop delivery to the rest; their errors come
// back joined.
func (n *Notifier) Notify(ctx context.Context, alert Alert) error {
	if len(n.allowed) > 0 && !n.allowed[alert.Event] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("event", string(alert.Event)),
		)
		return nil
	}
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}

	var failed []string
	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(alert.Event)),
				slog.String("error", err.Error()),
			)
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("sender", s.Name()),
			slog.String("event", string(alert.Event)),
		)
	}

	if len(failed) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(failed, "; "))
	}
	return nil
}
