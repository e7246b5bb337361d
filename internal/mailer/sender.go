package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// Sender delivers one message. Implementations must be safe for concurrent
// use by the queue's workers.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs. It is the fallback when no broker is configured, so
// onboarding links are still visible in development.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info("mail (not delivered, no broker configured)",
		"messageID", msg.ID, "to", msg.To, "subject", msg.Subject)
	s.Logger.Debug("mail body", "messageID", msg.ID, "html", msg.HTML)
	return nil
}

// AMQPSender publishes messages as persistent JSON to a durable queue, where
// the mail relay picks them up.
//
// A broker restart or a channel-level error closes the AMQP channel for good,
// so the sender watches for that and dials a fresh session on the next Send.
// The message that hit the dead channel fails and the queue retries it.
type AMQPSender struct {
	url    string
	queue  string
	dial   dialFunc
	logger *slog.Logger

	// An amqp.Channel must not be used by several goroutines at once.
	mu      sync.Mutex
	session *amqpSession
}

// publisher is the part of *amqp.Channel the sender uses.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpSession is one connection plus the channel published on.
type amqpSession struct {
	channel publisher
	conn    io.Closer
	closed  <-chan *amqp.Error // closed by the library when the channel dies
}

func (s *amqpSession) dead() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *amqpSession) close() error {
	var errs []error
	if err := s.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type dialFunc func(brokerURL, queue string) (*amqpSession, error)

// NewAMQPSender connects to the broker and declares the queue. The first
// session is opened here so a bad URL stops startup.
func NewAMQPSender(brokerURL, queue string, logger *slog.Logger) (*AMQPSender, error) {
	return newAMQPSender(brokerURL, queue, dialAMQP, logger)
}

func newAMQPSender(brokerURL, queue string, dial dialFunc, logger *slog.Logger) (*AMQPSender, error) {
	session, err := dial(brokerURL, queue)
	if err != nil {
		return nil, err
	}
	return &AMQPSender{
		url:     brokerURL,
		queue:   queue,
		dial:    dial,
		logger:  logger,
		session: session,
	}, nil
}

func dialAMQP(brokerURL, queue string) (*amqpSession, error) {
	conn, err := amqp.Dial(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("mailer: connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mailer: opening channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable: survives a broker restart
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("mailer: declaring queue %s: %w", queue, err)
	}

	// The channel also closes when its connection drops.
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	return &amqpSession{channel: ch, conn: conn, closed: closed}, nil
}

func (s *AMQPSender) Send(_ context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mailer: encoding message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.dead() {
		s.logger.Warn("broker channel closed, reconnecting", "queue", s.queue)
		s.dropSession()
	}
	if s.session == nil {
		session, err := s.dial(s.url, s.queue)
		if err != nil {
			return err
		}
		s.session = session
	}

	err = s.session.channel.Publish(
		"",      // default exchange
		s.queue, // routing key: the queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.ID,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		// A failed publish leaves the channel unusable. Start over next time.
		s.dropSession()
		return fmt.Errorf("mailer: publishing %s: %w", msg.ID, err)
	}
	return nil
}

// dropSession must be called with mu held.
func (s *AMQPSender) dropSession() {
	if err := s.session.close(); err != nil {
		s.logger.Debug("closing broker session", "error", err)
	}
	s.session = nil
}

// Close closes the channel and the connection.
func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.close()
	s.session = nil
	if err != nil {
		return fmt.Errorf("mailer: closing broker connection: %w", err)
	}
	return nil
}
