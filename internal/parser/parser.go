// Package parser turns the DATA stream of an SMTP transaction into an
// email.Message, decoding MIME structure and transfer encodings.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/smalltech/web0-mail/internal/email"
)

// Parse reads a complete RFC 5322 message from r. HTML-only messages are
// downconverted to text. Read errors from r are returned unchanged in the
// error chain so the caller can tell a broken stream from a broken message.
//
// A payload that does not open with a header field is taken as a bare text
// body rather than rejected.
func Parse(r io.Reader) (*email.Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(data))
	if err != nil {
		if !startsWithHeader(data) {
			slog.Debug("message has no header block, using it as text", "error", err)
			return &email.Message{Text: normalizeNewlines(string(data))}, nil
		}
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	for _, perr := range env.Errors {
		slog.Debug("message parse warning", "error", perr.Error())
	}

	msg := &email.Message{
		From:      addressList(env, "From"),
		To:        addressList(env, "To"),
		Cc:        addressList(env, "Cc"),
		Subject:   env.GetHeader("Subject"),
		MessageID: env.GetHeader("Message-Id"),
		Text:      normalizeNewlines(env.Text),
	}

	if raw := env.GetHeader("Date"); raw != "" {
		date, err := mail.ParseDate(raw)
		if err != nil {
			slog.Debug("ignoring unparsable date header", "date", raw, "error", err)
		} else {
			msg.Date = date
		}
	}

	return msg, nil
}

// addressList returns the addresses in header key, or nil when the header is
// absent. Lists that fail RFC 5322 parsing fall back to a comma split.
func addressList(env *enmime.Envelope, key string) []email.Address {
	list, err := env.AddressList(key)
	if err == nil {
		if len(list) == 0 {
			return nil
		}
		result := make([]email.Address, 0, len(list))
		for _, a := range list {
			result = append(result, email.Address{Name: a.Name, Address: a.Address})
		}
		return result
	}
	if errors.Is(err, mail.ErrHeaderNotPresent) {
		return nil
	}

	raw := env.GetHeader(key)
	if raw == "" {
		return nil
	}
	slog.Debug("falling back to simple address split", "header", key, "error", err)

	var result []email.Address
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, email.Address{Address: trimmed})
		}
	}
	return result
}

// startsWithHeader reports whether the first line of data has the shape of
// a header field: a non-empty name of printable ASCII up to a colon.
func startsWithHeader(data []byte) bool {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	name, _, found := bytes.Cut(line, []byte(":"))
	if !found || len(name) == 0 {
		return false
	}
	for _, c := range name {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
