package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSendTimeout = 5 * time.Second

// Observer is notified of every delivery attempt.
type Observer interface {
	ObserveNotification(kind string, err error)
}

// Dispatcher delivers events asynchronously. Dispatch never blocks the caller
// and never reports an error: failures are logged and counted only.
type Dispatcher struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	observer  Observer
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func NewDispatcher(sender Sender, templates *TemplateEngine, logger zerolog.Logger, opts ...Option) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	d := &Dispatcher{
		sender:    sender,
		templates: templates,
		logger:    logger,
		timeout:   defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch renders and sends ev in the background. The request context's
// values are kept but its cancellation is not, so a finished HTTP request does
// not abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Str("kind", string(ev.Kind)).Msg("notification dropped: dispatcher closed")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.send(sendCtx, ev)
		if d.observer != nil {
			d.observer.ObserveNotification(string(ev.Kind), err)
		}
		if err != nil {
			d.logger.Error().Err(err).
				Str("kind", string(ev.Kind)).
				Str("patient_id", ev.PatientID.String()).
				Msg("notification delivery failed")
		}
	}()
}

func (d *Dispatcher) send(ctx context.Context, ev Event) error {
	subject, body, err := d.templates.Render(ev.Kind, ev.Data)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, Message{
		ID:        uuid.New(),
		Kind:      ev.Kind,
		TenantID:  ev.TenantID,
		Recipient: ev.PatientID.String(),
		Subject:   subject,
		Body:      body,
		Data:      ev.Data,
		CreatedAt: ev.OccurredAt,
	})
}

// Close stops accepting events and waits for in-flight deliveries or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits for every delivery dispatched so far.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}
