// Package email defines the mail data model shared by the SMTP session, the
// relay and the outbound providers.
package email

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Address is a display name and address pair. An empty Name means the
// header carried no display name.
type Address struct {
	Name    string
	Address string
}

// String formats the address the way a mail client shows it in a quoted
// header block: "Name <addr>" or the bare address.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// FormatList joins an address list for display.
func FormatList(list []Address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

// Recipient is a single RCPT TO declaration.
type Recipient struct {
	Address string
}

// Envelope is the SMTP-level addressing of one mail transaction. The
// session owns it and resets it when the transaction ends, so anything that
// outlives the DATA command must work on a Clone.
type Envelope struct {
	MailFrom string
	RcptTo   []Recipient
}

// Clone returns a copy that shares no memory with e.
func (e *Envelope) Clone() Envelope {
	if e == nil {
		return Envelope{}
	}
	c := Envelope{MailFrom: e.MailFrom}
	if e.RcptTo != nil {
		c.RcptTo = make([]Recipient, len(e.RcptTo))
		copy(c.RcptTo, e.RcptTo)
	}
	return c
}

// Reset clears the envelope for the next transaction.
func (e *Envelope) Reset() {
	e.MailFrom = ""
	e.RcptTo = nil
}

// Message is an inbound message after parsing. Only Text is always
// present; nil address lists, an empty Subject and a zero Date mean the
// header was absent.
type Message struct {
	From      []Address
	To        []Address
	Cc        []Address
	Subject   string
	Date      time.Time
	MessageID string
	Text      string
}

// Email is an outbound plain-text message handed to a provider.
type Email struct {
	From      string
	To        []string
	Cc        []string
	ReplyTo   string
	Subject   string
	TextBody  string
	MessageID string
	InReplyTo string
	Date      time.Time
}

// Bytes renders e as an RFC 5322 message.
func (e *Email) Bytes() ([]byte, error) {
	b := enmime.Builder().
		From("", e.From).
		Subject(e.Subject).
		Text([]byte(e.TextBody))

	for _, to := range e.To {
		b = b.To("", to)
	}
	for _, cc := range e.Cc {
		b = b.CC("", cc)
	}
	if e.ReplyTo != "" {
		b = b.ReplyTo("", e.ReplyTo)
	}
	if !e.Date.IsZero() {
		b = b.Date(e.Date)
	}
	if e.MessageID != "" {
		b = b.Header("Message-ID", e.MessageID)
	}
	if e.InReplyTo != "" {
		b = b.Header("In-Reply-To", e.InReplyTo)
		b = b.Header("References", e.InReplyTo)
	}

	part, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}

	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return buf.Bytes(), nil
}

// Recipients returns every address the message is delivered to.
func (e *Email) Recipients() []string {
	rcpts := make([]string, 0, len(e.To)+len(e.Cc))
	rcpts = append(rcpts, e.To...)
	rcpts = append(rcpts, e.Cc...)
	return rcpts
}
