// Package relay answers mail sent to the public mailbox: it accepts only
// that one recipient, and for every accepted message sends the sender a
// reply that quotes the original and copies the staff address.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smalltech/web0-mail/internal/email"
	"github.com/smalltech/web0-mail/internal/parser"
	"github.com/smalltech/web0-mail/internal/provider"
	"github.com/smalltech/web0-mail/internal/smtp"
)

// defaultSendTimeout bounds a single provider call.
const defaultSendTimeout = 30 * time.Second

// Replies returned to SMTP clients.
var (
	ErrAddressNotFound = &smtp.Error{Code: 550, EnhancedCode: "5.1.1", Message: "Address not found."}

	ErrMalformedMessage = &smtp.Error{Code: 550, EnhancedCode: "5.6.0", Message: "Message could not be parsed."}
)

// Config holds the configuration for a Relay.
type Config struct {
	// Mailbox is the only accepted recipient, compared case-sensitively.
	Mailbox string

	// StaffAddress sends the reply and is copied on it.
	StaffAddress string

	// Hostname is used for generated Message-IDs.
	Hostname string

	Composer Composer
	Provider provider.Provider

	// SendTimeout bounds a provider call. Zero means 30 seconds.
	SendTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Relay implements smtp.Backend. Receipt is acknowledged as soon as the
// message parses; the reply is sent afterwards and its outcome is only
// logged.
type Relay struct {
	mailbox     string
	staff       string
	hostname    string
	composer    Composer
	provider    provider.Provider
	sendTimeout time.Duration
	log         *slog.Logger

	// wg tracks forwards still in flight.
	wg sync.WaitGroup
}

var _ smtp.Backend = (*Relay)(nil)

// New creates a Relay with the given configuration.
func New(cfg Config) *Relay {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Relay{
		mailbox:     cfg.Mailbox,
		staff:       cfg.StaffAddress,
		hostname:    cfg.Hostname,
		composer:    cfg.Composer,
		provider:    cfg.Provider,
		sendTimeout: cfg.SendTimeout,
		log:         cfg.Logger,
	}
}

// Connect accepts every connection.
func (r *Relay) Connect(_ context.Context, info smtp.SessionInfo) error {
	r.sessionLog(info).Info("starting new session with email client", "tls", info.TLS)
	return nil
}

// Mail accepts any sender that passed the session's syntax check.
func (r *Relay) Mail(_ context.Context, info smtp.SessionInfo, from string) error {
	r.sessionLog(info).Info("got mail from command", "from", from)
	return nil
}

// Rcpt accepts only the configured mailbox.
func (r *Relay) Rcpt(_ context.Context, info smtp.SessionInfo, to string) error {
	r.sessionLog(info).Info("got rcpt to command", "rcpt", to)
	if to != r.mailbox {
		metricDelivery.WithLabelValues("unknownuser").Inc()
		return ErrAddressNotFound
	}
	return nil
}

// Data parses the message and, on success, starts the forward in the
// background before returning so the client gets its acknowledgement
// without waiting on the provider.
func (r *Relay) Data(ctx context.Context, info smtp.SessionInfo, env *email.Envelope, body io.Reader) error {
	// env belongs to the session and is reset when Data returns.
	captured := env.Clone()

	log := r.sessionLog(info)

	msg, err := parser.Parse(body)
	if err != nil {
		log.Warn("failed to parse message", "error", err)
		metricDelivery.WithLabelValues("badmessage").Inc()
		return ErrMalformedMessage
	}

	log.Info("message received",
		"from", captured.MailFrom,
		"subject", msg.Subject,
		"size", len(msg.Text),
	)
	metricDelivery.WithLabelValues("accepted").Inc()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.sendTimeout)
		defer cancel()

		r.Forward(fctx, info, msg, captured)
	}()

	return nil
}

// Close logs the end of a session.
func (r *Relay) Close(info smtp.SessionInfo) {
	r.sessionLog(info).Info("email client closed session")
}

// Forward sends the reply for msg. Failures are logged and dropped: the
// client was told the message was accepted before Forward ran.
func (r *Relay) Forward(ctx context.Context, info smtp.SessionInfo, msg *email.Message, env email.Envelope) {
	log := r.sessionLog(info)

	if env.MailFrom == "" || len(env.RcptTo) == 0 {
		log.Error("cannot forward email, message envelope is incomplete",
			"mail_from", env.MailFrom,
			"rcpt_count", len(env.RcptTo),
		)
		metricForward.WithLabelValues("skipped").Inc()
		return
	}

	reply := r.Reply(msg, env)

	if err := r.provider.Send(ctx, reply); err != nil {
		args := []any{
			"provider", r.provider.Name(),
			"to", env.MailFrom,
			"subject", reply.Subject,
			"error", err,
		}
		// Transient failures are flagged so an operator can resend by hand.
		var temp interface{ Temporary() bool }
		if errors.As(err, &temp) {
			args = append(args, "temporary", temp.Temporary())
		}
		log.Error("failed to forward email", args...)
		metricForward.WithLabelValues("failed").Inc()
		return
	}

	log.Info("forwarded email",
		"provider", r.provider.Name(),
		"to", env.MailFrom,
		"subject", reply.Subject,
	)
	metricForward.WithLabelValues("sent").Inc()
}

// Reply builds the outbound message for msg: addressed to the envelope
// sender, copied to staff, subject prefixed with "FWD: ".
func (r *Relay) Reply(msg *email.Message, env email.Envelope) *email.Email {
	reply := &email.Email{
		From:      r.staff,
		To:        []string{env.MailFrom},
		ReplyTo:   r.staff,
		Subject:   "FWD: " + Subject(msg),
		TextBody:  r.composer.Compose(msg, env),
		MessageID: fmt.Sprintf("<%s@%s>", uuid.NewString(), r.hostname),
	}
	if r.staff != "" {
		reply.Cc = []string{r.staff}
	}
	if msg != nil {
		reply.InReplyTo = msg.MessageID
	}
	return reply
}

// Wait blocks until in-flight forwards finish or ctx is done.
func (r *Relay) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) sessionLog(info smtp.SessionInfo) *slog.Logger {
	return r.log.With("session", info.ID, "remote", info.RemoteAddr)
}
