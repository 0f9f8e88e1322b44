// Package smarthost implements a Provider that hands replies to an SMTP
// submission server, optionally through a SOCKS5 proxy.
package smarthost

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"golang.org/x/net/proxy"

	"github.com/smalltech/web0-mail/internal/email"
)

// dialTimeout bounds connection setup when ctx has no earlier deadline.
const dialTimeout = 30 * time.Second

// Config holds the configuration for a smarthost Provider.
type Config struct {
	// Addr is the submission server as host:port.
	Addr string

	// Username and Password enable AUTH PLAIN when both are set. net/smtp
	// refuses to send them over an unencrypted connection to a remote host.
	Username string
	Password string

	// SOCKSProxy, if set, is the host:port of a SOCKS5 proxy to dial through.
	SOCKSProxy string

	// Helo is the name sent in EHLO. Defaults to "localhost".
	Helo string

	// TLSConfig is used for STARTTLS. Defaults to verifying the Addr host.
	TLSConfig *tls.Config
}

// Provider delivers messages over SMTP.
type Provider struct {
	addr      string
	host      string
	helo      string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    proxy.Dialer
}

// New creates a smarthost Provider.
func New(cfg Config) (*Provider, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid smarthost address %q: %w", cfg.Addr, err)
	}

	var dialer proxy.Dialer = &net.Dialer{Timeout: dialTimeout}
	if cfg.SOCKSProxy != "" {
		dialer, err = proxy.SOCKS5("tcp", cfg.SOCKSProxy, nil, &net.Dialer{Timeout: dialTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
	}

	p := &Provider{
		addr:      cfg.Addr,
		host:      host,
		helo:      cfg.Helo,
		tlsConfig: cfg.TLSConfig,
		dialer:    dialer,
	}
	if p.helo == "" {
		p.helo = "localhost"
	}
	if p.tlsConfig == nil {
		p.tlsConfig = &tls.Config{ServerName: host}
	}
	if cfg.Username != "" && cfg.Password != "" {
		p.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return p, nil
}

// Send runs one SMTP transaction for msg. The envelope sender is msg.From
// and the recipients are its To and Cc addresses.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	rcpts := msg.Recipients()
	if len(rcpts) == 0 {
		return errors.New("message has no recipients")
	}

	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.addr, err)
	}

	// Closing the connection unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, p.host)
	if err != nil {
		conn.Close()
		return p.wrap(ctx, "failed to create SMTP client", err)
	}
	defer c.Close()

	if err := c.Hello(p.helo); err != nil {
		return p.wrap(ctx, "EHLO failed", err)
	}

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(p.tlsConfig); err != nil {
			return p.wrap(ctx, "STARTTLS failed", err)
		}
	}

	if p.auth != nil {
		if err := c.Auth(p.auth); err != nil {
			return p.wrap(ctx, "authentication failed", err)
		}
	}

	if err := c.Mail(msg.From); err != nil {
		return p.wrap(ctx, fmt.Sprintf("MAIL FROM %s rejected", msg.From), err)
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return p.wrap(ctx, fmt.Sprintf("RCPT TO %s rejected", rcpt), err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return p.wrap(ctx, "DATA rejected", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return p.wrap(ctx, "failed to write message", err)
	}
	if err := wc.Close(); err != nil {
		return p.wrap(ctx, "message rejected", err)
	}

	return c.Quit()
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smarthost"
}

func (p *Provider) dial(ctx context.Context) (net.Conn, error) {
	if cd, ok := p.dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", p.addr)
	}
	return p.dialer.Dial("tcp", p.addr)
}

// wrap reports a cancelled context in preference to the I/O error it caused.
func (p *Provider) wrap(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", msg, ctxErr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
