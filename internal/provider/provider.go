// Package provider defines the interface for outbound delivery backends.
package provider

import (
	"context"

	"github.com/smalltech/web0-mail/internal/email"
)

// Provider sends replies on behalf of the relay. Implementations make a
// single attempt and return its error; the relay decides what to do with it.
type Provider interface {
	// Send delivers msg. It must honour ctx cancellation.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the provider name used in logs and configuration.
	Name() string
}
