package parser

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: Jane Doe <jane@example.com>",
		"To: Computer <computer@example.org>",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n")

	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.From) != 1 || msg.From[0].Name != "Jane Doe" || msg.From[0].Address != "jane@example.com" {
		t.Errorf("From: got %+v, want [Jane Doe <jane@example.com>]", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0].Address != "computer@example.org" {
		t.Errorf("To: got %+v, want [computer@example.org]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	wantDate := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !msg.Date.Equal(wantDate) {
		t.Errorf("Date: got %v, want %v", msg.Date, wantDate)
	}
	if msg.Text != "Hello, this is a plain text email." {
		t.Errorf("Text: got %q, want %q", msg.Text, "Hello, this is a plain text email.")
	}
	if msg.Cc != nil {
		t.Errorf("Cc: got %+v, want nil", msg.Cc)
	}
}

func TestParseAbsentHeaders(t *testing.T) {
	t.Parallel()

	raw := "X-Mailer: test\r\n\r\nbody only\r\n"

	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != nil {
		t.Errorf("From: got %+v, want nil", msg.From)
	}
	if msg.To != nil {
		t.Errorf("To: got %+v, want nil", msg.To)
	}
	if msg.Subject != "" {
		t.Errorf("Subject: got %q, want empty", msg.Subject)
	}
	if !msg.Date.IsZero() {
		t.Errorf("Date: got %v, want zero", msg.Date)
	}
	if !strings.HasPrefix(msg.Text, "body only") {
		t.Errorf("Text: got %q, want prefix %q", msg.Text, "body only")
	}
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n")

	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.To) != 2 {
		t.Fatalf("To: got %d recipients, want 2", len(msg.To))
	}
	if msg.To[1].Address != "bob@example.com" {
		t.Errorf("To[1]: got %q, want %q", msg.To[1].Address, "bob@example.com")
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Address != "carol@example.com" {
		t.Errorf("Cc: got %+v, want [carol@example.com]", msg.Cc)
	}
	if strings.TrimSpace(msg.Text) != "Plain text body" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Plain text body")
	}
}

func TestParseBase64TextPart(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"From: sender@example.com",
		"Subject: Encoded",
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
	}, "\r\n")

	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Text != "Hello World" {
		t.Errorf("Text: got %q, want %q", msg.Text, "Hello World")
	}
}

func TestParseNormalizesLineEndings(t *testing.T) {
	t.Parallel()

	raw := "Subject: Lines\r\n\r\nline1\r\nline2"

	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(msg.Text, "\r") {
		t.Errorf("Text still contains CR: %q", msg.Text)
	}
	if !strings.HasPrefix(msg.Text, "line1\nline2") {
		t.Errorf("Text: got %q, want prefix %q", msg.Text, "line1\nline2")
	}
}

func TestParseUnparsableDateIgnored(t *testing.T) {
	t.Parallel()

	raw := "Subject: x\r\nDate: yesterday-ish\r\n\r\nbody"

	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.Date.IsZero() {
		t.Errorf("Date: got %v, want zero", msg.Date)
	}
}

func TestParseReaderError(t *testing.T) {
	t.Parallel()

	broken := io.MultiReader(
		strings.NewReader("Subject: partial\r\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)

	if _, err := Parse(broken); err == nil {
		t.Fatal("expected error from failing reader, got nil")
	}
}

func TestParseWithoutHeaderBlock(t *testing.T) {
	t.Parallel()

	msg, err := Parse(strings.NewReader("no headers at all just text\r\nsecond line\r\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Text != "no headers at all just text\nsecond line\n" {
		t.Errorf("Text: got %q", msg.Text)
	}
	if msg.Subject != "" || msg.From != nil || msg.To != nil || !msg.Date.IsZero() {
		t.Errorf("headers should be absent, got %+v", msg)
	}
}

func TestStartsWithHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"Subject: hi\r\n\r\nbody", true},
		{"X-Custom:value\r\n", true},
		{"no headers at all just text\r\n", false},
		{"Dear team: hello\r\n", false},
		{": empty name\r\n", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := startsWithHeader([]byte(tt.input)); got != tt.want {
			t.Errorf("startsWithHeader(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
