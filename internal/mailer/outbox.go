package mailer

import "fmt"

// Outbox composes and enqueues the transactional emails the account flows
// send. It is what the services depend on.
type Outbox struct {
	composer *Composer
	queue    *Queue
}

// NewOutbox wires a Composer to a Queue.
func NewOutbox(composer *Composer, queue *Queue) *Outbox {
	return &Outbox{composer: composer, queue: queue}
}

// SendOnboarding queues the signup-completion email carrying token.
func (o *Outbox) SendOnboarding(to, token string) error {
	msg, err := o.composer.Onboarding(to, token)
	if err != nil {
		return err
	}
	return o.enqueue(msg)
}

// SendPasswordReset queues the reset email carrying token.
func (o *Outbox) SendPasswordReset(to, token string) error {
	msg, err := o.composer.PasswordReset(to, token)
	if err != nil {
		return err
	}
	return o.enqueue(msg)
}

func (o *Outbox) enqueue(msg Message) error {
	if _, err := o.queue.Enqueue(msg); err != nil {
		return fmt.Errorf("mailer: queueing %q to %s: %w", msg.Subject, msg.To, err)
	}
	return nil
}
