package mailstrom

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable value describing one logical delivery. Identity is
// the caller-assigned ID: two Messages with the same ID are the same logical
// send for idempotency purposes.
type Message struct {
	ID          string
	Recipient   string
	Sender      string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Attachment is an optional file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// NewMessage builds a Message with a generated unique ID. Callers that need
// idempotency across their own retries should construct the Message literal
// with a stable ID instead.
func NewMessage(recipient, sender, subject, body string) Message {
	return Message{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Sender:    sender,
		Subject:   subject,
		Body:      body,
	}
}

// SendOutcome is the terminal result of one logical send. Send always resolves
// to an outcome value; delivery failures are reported with Success=false and a
// human-readable Error, never as a fault.
type SendOutcome struct {
	Success  bool          `json:"success"`
	Receipt  string        `json:"receipt,omitempty"`
	Backend  string        `json:"backend,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// AttemptStatus tracks the lifecycle of a single backend attempt.
type AttemptStatus string

const (
	AttemptInFlight  AttemptStatus = "in-flight"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt records a single call to one backend for one message. Records are
// append-only per message id; the only mutation after creation is the
// in-flight to terminal transition.
type Attempt struct {
	MessageID string        `json:"message_id"`
	Backend   string        `json:"backend"`
	Seq       int           `json:"seq"`
	Status    AttemptStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}
