package relay

import (
	"strings"

	"github.com/smalltech/web0-mail/internal/email"
)

// FirstName returns the first word of the display name of the first address
// in list, with a leading space so it can follow a salutation directly
// ("Hello" + " Jane"). It returns "" when the list is empty or carries no
// display name; the bare address is never used.
//
// A name that splits into no words falls back to the whole name, which is
// then blank, so whitespace-only names also give "".
func FirstName(list []email.Address) string {
	if len(list) == 0 {
		return ""
	}

	name := list[0].Name
	if name == "" {
		return ""
	}

	first := name
	if words := strings.Fields(name); len(words) > 0 {
		first = words[0]
	}
	if strings.TrimSpace(first) == "" {
		return ""
	}
	return " " + first
}
