// Package notification renders ward events into patient-facing messages and
// hands them to a delivery channel after the originating transaction commits.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind identifies a ward event worth telling the patient about.
type Kind string

const (
	KindAdmissionConfirmation Kind = "admission_confirmation"
	KindICUTransfer           Kind = "icu_transfer"
	KindDischargeSummary      Kind = "discharge_summary"
	KindInvoiceGenerated      Kind = "invoice_generated"
)

// Event is produced by the admission workflow once its transaction commits.
type Event struct {
	Kind       Kind              `json:"kind"`
	TenantID   string            `json:"tenant_id,omitempty"`
	PatientID  uuid.UUID         `json:"patient_id"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Message is a rendered Event ready for delivery.
type Message struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	TenantID  string            `json:"tenant_id,omitempty"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Sender delivers a rendered message to a channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Template defines the subject and body rendered for one event kind.
type Template struct {
	Kind    Kind
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders from an event's data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[Kind]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			Kind:    KindAdmissionConfirmation,
			Subject: "Admission Confirmation",
			Body:    "You have been admitted to {{ward}}, Bed {{bed}}.",
		},
		{
			Kind:    KindICUTransfer,
			Subject: "ICU Transfer Notification",
			Body:    "The patient has been transferred to {{ward}}, Bed {{bed}} for closer monitoring.",
		},
		{
			Kind:    KindDischargeSummary,
			Subject: "Discharge Summary Ready",
			Body:    "Your discharge from {{ward}} is complete. Your discharge summary is now ready.",
		},
		{
			Kind:    KindInvoiceGenerated,
			Subject: "New Invoice Generated",
			Body:    "Invoice #{{bill_id}} of {{amount}} has been generated ({{payment_status}}).",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Kind] = &t
	}
}

// RegisterTemplate adds or replaces the template for t.Kind.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = &t
}

// Render substitutes data into the template for kind. Placeholders without a
// value are left as-is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// LogSender writes messages to the structured log. It is the fallback channel
// when no Redis URL is configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("notification_id", msg.ID.String()).
		Str("kind", string(msg.Kind)).
		Str("tenant_id", msg.TenantID).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Msg("notification")
	return nil
}

// MemorySender keeps every message it is given. Useful for tests and the
// in-process store driver.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (s *MemorySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of the delivered messages.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}
