package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smalltech/web0-mail/internal/email"
)

// State is the position of a session in the mail transaction.
type State int

// Session states, in protocol order. StateClosed is terminal.
const (
	StateConnected State = iota
	StateSenderKnown
	StateRecipientKnown
	StateDataReceiving
	StateDataComplete
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSenderKnown:
		return "sender-known"
	case StateRecipientKnown:
		return "recipient-known"
	case StateDataReceiving:
		return "data-receiving"
	case StateDataComplete:
		return "data-complete"
	case StateClosed:
		return "closed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// dataTimeout bounds the transfer of a single message body.
const dataTimeout = 5 * time.Minute

// Session represents a single SMTP client connection and drives it through
// the protocol stages.
type Session struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	state   State
	greeted bool
	backend Backend
	info    SessionInfo
	log     *slog.Logger

	hostname string
	banner   string
	maxSize  int64

	// TLS support
	tlsConfig *tls.Config
	tlsActive bool

	// Current transaction
	envelope email.Envelope
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, cfg ServerConfig) *Session {
	_, tlsActive := conn.(*tls.Conn)

	info := SessionInfo{
		ID:         uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		TLS:        tlsActive,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     StateConnected,
		backend:   cfg.Backend,
		info:      info,
		log:       logger.With("session", info.ID, "remote", info.RemoteAddr),
		hostname:  cfg.Hostname,
		banner:    cfg.Banner,
		maxSize:   cfg.MaxMessageSize,
		tlsConfig: cfg.TLSConfig,
		tlsActive: tlsActive,
	}
}

// State returns the current protocol state.
func (s *Session) State() State {
	return s.state
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer func() {
		s.transition(StateClosed)
		s.backend.Close(s.info)
		s.conn.Close()
	}()

	if err := s.backend.Connect(ctx, s.info); err != nil {
		s.writeError(err, &Error{Code: 554, EnhancedCode: "5.7.1", Message: "Connection refused"})
		return
	}

	s.writeLine("220 %s ESMTP %s", s.hostname, s.banner)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 4.3.2 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			s.log.Error("failed to set connection deadline", "error", err)
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.log.Debug("connection read error", "error", err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		metricCommands.WithLabelValues(commandLabel(cmd)).Inc()
		done := s.handleCommand(ctx, cmd, arg)
		if done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		s.writeLine("502 5.5.1 AUTH not available")
	case "MAIL":
		s.handleMAIL(ctx, arg)
	case "RCPT":
		s.handleRCPT(ctx, arg)
	case "DATA":
		return s.handleDATA(ctx)
	case "RSET":
		s.handleRSET()
	case "NOOP":
		s.writeLine("250 2.0.0 OK")
	case "QUIT":
		s.writeLine("221 2.0.0 Bye")
		return true
	default:
		s.writeLine("500 5.5.2 Unrecognized command")
	}
	return false
}

// handleEHLO processes EHLO/HELO commands.
func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 5.5.4 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction(StateConnected)
	s.greeted = true
	s.info.Helo = arg

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.hostname, arg)
		return
	}

	// EHLO response with capabilities. AUTH is never advertised.
	s.writeLine("250-%s Hello %s", s.hostname, arg)
	if s.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.maxSize > 0 {
		s.writeLine("250-SIZE %d", s.maxSize)
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250 ENHANCEDSTATUSCODES")
}

// handleSTARTTLS upgrades the connection to TLS. It returns true when the
// handshake failed; the stream is then in an unknown state and the session
// must end.
func (s *Session) handleSTARTTLS() bool {
	if s.tlsConfig == nil {
		s.writeLine("454 4.7.0 TLS not available")
		return false
	}
	if s.tlsActive {
		s.writeLine("454 4.7.0 TLS already active")
		return false
	}

	s.writeLine("220 2.0.0 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.log.Error("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.info.TLS = true

	// RFC 3207: the client must greet again after the handshake.
	s.greeted = false
	s.info.Helo = ""
	s.resetTransaction(StateConnected)
	return false
}

// handleMAIL processes the MAIL FROM command.
func (s *Session) handleMAIL(ctx context.Context, arg string) {
	if !s.greeted {
		s.writeLine("503 5.5.1 Send EHLO/HELO first")
		return
	}
	if s.state == StateSenderKnown || s.state == StateRecipientKnown {
		s.writeLine("503 5.5.1 Nested MAIL command")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "FROM:") {
		s.writeLine("501 5.5.4 Syntax: MAIL FROM:<address>")
		return
	}

	addr, params, ok := extractAddress(arg[5:])
	if !ok {
		s.writeLine("501 5.5.4 Syntax: MAIL FROM:<address>")
		return
	}

	if size, ok := declaredSize(params); ok && s.maxSize > 0 && size > s.maxSize {
		s.writeError(errTooLarge, nil)
		return
	}

	if err := s.backend.Mail(ctx, s.info, addr); err != nil {
		s.writeError(err, errLocal)
		return
	}

	s.envelope.Reset()
	s.envelope.MailFrom = addr
	s.transition(StateSenderKnown)
	s.writeLine("250 2.1.0 OK")
}

// handleRCPT processes the RCPT TO command.
func (s *Session) handleRCPT(ctx context.Context, arg string) {
	if s.state != StateSenderKnown && s.state != StateRecipientKnown {
		s.writeLine("503 5.5.1 Send MAIL FROM first")
		return
	}

	upper := strings.ToUpper(arg)
	if !strings.HasPrefix(upper, "TO:") {
		s.writeLine("501 5.5.4 Syntax: RCPT TO:<address>")
		return
	}

	addr, _, ok := extractAddress(arg[3:])
	if !ok || addr == "" {
		s.writeLine("501 5.5.4 Syntax: RCPT TO:<address>")
		return
	}

	if err := s.backend.Rcpt(ctx, s.info, addr); err != nil {
		s.log.Info("recipient rejected", "rcpt", addr, "error", err)
		s.writeError(err, errLocal)
		return
	}

	s.envelope.RcptTo = append(s.envelope.RcptTo, email.Recipient{Address: addr})
	s.transition(StateRecipientKnown)
	s.writeLine("250 2.1.5 OK")
}

// handleDATA streams the message body to the backend. It returns true when
// the connection failed mid-transfer and the session must end.
func (s *Session) handleDATA(ctx context.Context) bool {
	if s.state != StateRecipientKnown {
		s.writeLine("503 5.5.1 Send RCPT TO first")
		return false
	}

	if err := s.conn.SetDeadline(time.Now().Add(dataTimeout)); err != nil {
		s.log.Error("failed to set connection deadline", "error", err)
		return true
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")
	s.transition(StateDataReceiving)

	dot := textproto.NewReader(s.reader).DotReader()
	body := newLimitReader(dot, s.maxSize)

	err := s.backend.Data(ctx, s.info, &s.envelope, body)

	// Whatever the backend left unread must still be consumed up to the
	// terminating dot to keep the command stream in sync.
	if _, derr := io.Copy(io.Discard, dot); derr != nil {
		s.log.Info("connection lost during DATA", "error", derr)
		metricData.WithLabelValues("aborted").Inc()
		return true
	}

	s.resetTransaction(StateDataComplete)

	switch {
	case body.exceeded:
		s.log.Info("message rejected", "reason", "size", "limit", s.maxSize)
		metricData.WithLabelValues("toolarge").Inc()
		s.writeError(errTooLarge, nil)
	case err != nil:
		s.log.Info("message rejected", "error", err)
		metricData.WithLabelValues("rejected").Inc()
		s.writeError(err, errLocal)
	default:
		metricData.WithLabelValues("accepted").Inc()
		s.writeLine("250 2.0.0 OK message accepted")
	}
	return false
}

// handleRSET resets the current transaction state.
func (s *Session) handleRSET() {
	s.resetTransaction(StateConnected)
	s.writeLine("250 2.0.0 OK")
}

// resetTransaction clears the current mail transaction and moves to next.
// The greeting is not affected.
func (s *Session) resetTransaction(next State) {
	s.envelope.Reset()
	s.transition(next)
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	s.log.Debug("session state", "from", s.state.String(), "to", next.String())
	s.state = next
}

// writeError sends the reply carried by err, or fallback if err is not an *Error.
func (s *Session) writeError(err error, fallback *Error) {
	var reply *Error
	if !errors.As(err, &reply) {
		reply = fallback
	}
	if reply == nil {
		reply = errLocal
	}
	s.writeLine("%d %s %s", reply.Code, reply.EnhancedCode, reply.Message)
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	_, err := s.writer.WriteString(line + "\r\n")
	if err != nil {
		s.log.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.log.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address and any trailing ESMTP parameters
// from an SMTP path argument, handling both angle-bracket and bare formats.
// The null path "<>" yields an empty address with ok set.
func extractAddress(s string) (addr, params string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}

	// Handle angle-bracket format: <user@example.com> PARAM=VALUE
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", "", false
		}
		return s[1:end], strings.TrimSpace(s[end+1:]), true
	}

	// Bare address format
	addr, params, _ = strings.Cut(s, " ")
	return addr, strings.TrimSpace(params), true
}

// declaredSize returns the value of a SIZE= ESMTP parameter.
func declaredSize(params string) (int64, bool) {
	for _, p := range strings.Fields(params) {
		k, v, found := strings.Cut(p, "=")
		if !found || !strings.EqualFold(k, "SIZE") {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
