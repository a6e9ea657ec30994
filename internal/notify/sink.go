package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

// Sink delivers a notification for a user.
type Sink interface {
	Send(ctx context.Context, userID string, n domain.Notification) error
}

// ErrUserMismatch is returned when a notification is addressed to a user the
// notifications store is not bound to.
var ErrUserMismatch = errors.New("notification user does not match store user")

// Creator persists notifications for the user it is bound to. The
// notifications store satisfies it.
type Creator interface {
	Create(ctx context.Context, n domain.Notification) (domain.Notification, error)
	UserID() string
}

// RemoteSink writes notifications to the notifications table through the
// store, so the list refreshes like any other write.
type RemoteSink struct {
	notes Creator
}

// NewRemoteSink creates a sink writing through notes.
func NewRemoteSink(notes Creator) *RemoteSink {
	return &RemoteSink{notes: notes}
}

// Send implements Sink. The store writes for its own bound user, so a
// notification for anyone else is rejected.
func (s *RemoteSink) Send(ctx context.Context, userID string, n domain.Notification) error {
	if bound := s.notes.UserID(); bound != userID {
		return fmt.Errorf("Send: %w: for %q, store bound to %q", ErrUserMismatch, userID, bound)
	}
	if _, err := s.notes.Create(ctx, n); err != nil {
		return fmt.Errorf("Send: creating notification: %w", err)
	}
	return nil
}

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the broker payload.
type Message struct {
	UserID    string                      `json:"user_id"`
	ID        string                      `json:"id"`
	Type      domain.NotificationType     `json:"type"`
	Category  domain.NotificationCategory `json:"category"`
	Title     string                      `json:"title"`
	Message   string                      `json:"message"`
	ActionURL string                      `json:"action_url,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
}

// AMQPSink publishes notifications as JSON to a durable RabbitMQ queue for
// push delivery.
type AMQPSink struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
	log     zerolog.Logger
}

// NewAMQPSink connects to url and declares queue.
func NewAMQPSink(url, queue string, log zerolog.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("NewAMQPSink: dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewAMQPSink: opening channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("NewAMQPSink: declaring queue %s: %w", queue, err)
	}

	return &AMQPSink{conn: conn, channel: ch, queue: q.Name, log: log}, nil
}

// Send implements Sink.
func (s *AMQPSink) Send(ctx context.Context, userID string, n domain.Notification) error {
	body, err := json.Marshal(Message{
		UserID:    userID,
		ID:        n.ID,
		Type:      n.Type,
		Category:  n.Category,
		Title:     n.Title,
		Message:   n.Message,
		ActionURL: n.ActionURL,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("Send: encoding message: %w", err)
	}

	err = s.channel.Publish(
		"",      // default exchange
		s.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    n.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("Send: publishing to %s: %w", s.queue, err)
	}

	s.log.Debug().Str("user_id", userID).Str("category", string(n.Category)).Msg("Notification published")
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}

// QuietHoursSink forwards to next only when pushes are enabled and the
// current time is outside quiet hours.
type QuietHoursSink struct {
	next     Sink
	settings *SettingsStore
	now      func() time.Time
}

// NewQuietHoursSink wraps next.
func NewQuietHoursSink(next Sink, settings *SettingsStore) *QuietHoursSink {
	return &QuietHoursSink{next: next, settings: settings, now: time.Now}
}

// Send implements Sink.
func (s *QuietHoursSink) Send(ctx context.Context, userID string, n domain.Notification) error {
	st, err := s.settings.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}
	if !st.PushNotifications || st.QuietHours.Contains(s.now()) {
		return nil
	}
	return s.next.Send(ctx, userID, n)
}

// MultiSink sends to every sink and joins their errors.
type MultiSink []Sink

// Send implements Sink.
func (m MultiSink) Send(ctx context.Context, userID string, n domain.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = (*RemoteSink)(nil)
	_ Sink = (*AMQPSink)(nil)
	_ Sink = (*QuietHoursSink)(nil)
	_ Sink = MultiSink(nil)
)
