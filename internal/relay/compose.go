package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/smalltech/web0-mail/internal/email"
)

// NoSubject replaces a missing subject line.
const NoSubject = "(no subject)"

// Composer writes the auto-reply body.
type Composer struct {
	// StaffNames is who the sender is put in touch with, e.g.
	// "Laura and Aral at Small Technology Foundation".
	StaffNames string

	// Signature closes the reply, e.g. "Computer @ web0.small-web.org".
	Signature string
}

// Subject returns the subject of msg or NoSubject.
func Subject(msg *email.Message) string {
	if msg == nil || msg.Subject == "" {
		return NoSubject
	}
	return msg.Subject
}

// Compose builds the plain-text reply to msg. The quoted header block uses
// the envelope addresses, and only the headers the original carried.
func (c Composer) Compose(msg *email.Message, env email.Envelope) string {
	if msg == nil {
		msg = &email.Message{}
	}

	fromName := FirstName(msg.From)
	toName := FirstName(msg.To)

	toAddress := ""
	if len(env.RcptTo) > 0 {
		toAddress = env.RcptTo[0].Address
	}

	staff := c.StaffNames
	if staff == "" {
		staff = "the team"
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Hello%s,\n\n", fromName)
	b.WriteString("Thanks for writing in.\n\n")
	fmt.Fprintf(&b, "I’m CCing %s so you can talk to a human being.\n\n", staff)
	fmt.Fprintf(&b, "Lots of love,\n%s\n\n", c.Signature)

	fmt.Fprintf(&b, "> From:%s <%s>\n", fromName, env.MailFrom)
	fmt.Fprintf(&b, "> To:%s %s\n", toName, toAddress)
	if msg.Cc != nil {
		fmt.Fprintf(&b, "> CC: %s\n", email.FormatList(msg.Cc))
	}
	if !msg.Date.IsZero() {
		fmt.Fprintf(&b, "> Date: %s\n", msg.Date.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "> Subject: %s\n", Subject(msg))
	b.WriteString(">\n")

	for _, line := range strings.Split(msg.Text, "\n") {
		fmt.Fprintf(&b, "> %s\n", line)
	}

	return b.String()
}
