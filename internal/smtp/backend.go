// Package smtp implements the inbound SMTP listener and the per-connection
// session state machine. Decisions about what to accept are delegated to a
// Backend, one method per protocol stage.
package smtp

import (
	"context"
	"fmt"
	"io"

	"github.com/smalltech/web0-mail/internal/email"
)

// SessionInfo identifies a session to the Backend.
type SessionInfo struct {
	// ID is unique per connection and appears in every log line of the session.
	ID string

	// RemoteAddr is the client address as seen by the listener.
	RemoteAddr string

	// Helo is the name the client gave in EHLO/HELO, empty before greeting.
	Helo string

	// TLS is true once the connection is encrypted.
	TLS bool
}

// Backend receives the protocol stages of a session. A nil error accepts the
// stage; an *Error is sent to the client verbatim, any other error is
// reported with the stage's default temporary failure.
type Backend interface {
	// Connect is called before the banner is sent.
	Connect(ctx context.Context, info SessionInfo) error

	// Mail is called for MAIL FROM. from is empty for the null reverse-path.
	Mail(ctx context.Context, info SessionInfo, from string) error

	// Rcpt is called for each RCPT TO. A rejection leaves the transaction
	// open so the client can try another recipient.
	Rcpt(ctx context.Context, info SessionInfo, to string) error

	// Data receives the dot-decoded message stream. env points at the
	// session's live envelope, which is reset as soon as Data returns;
	// implementations that keep using it must copy it first.
	Data(ctx context.Context, info SessionInfo, env *email.Envelope, body io.Reader) error

	// Close is called once when the connection ends, for any reason.
	Close(info SessionInfo)
}

// Error is an SMTP reply that rejects a stage.
type Error struct {
	Code         int
	EnhancedCode string
	Message      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s %s", e.Code, e.EnhancedCode, e.Message)
}

// Default replies used when a Backend returns an error that is not an *Error.
var (
	errLocal = &Error{Code: 451, EnhancedCode: "4.3.0", Message: "Local error in processing"}

	errTooLarge = &Error{Code: 552, EnhancedCode: "5.3.4", Message: "Message size exceeds fixed maximum message size"}
)
