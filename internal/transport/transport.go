// Package transport delivers rendered messages to recipients. The engine
// treats delivery as a callable capability: per-recipient failures are
// recorded by the dispatcher, never thrown past it.
package transport

import (
	"context"

	"github.com/Smr002/goldfit-notify/internal/notification"
)

// Transport sends one rendered message to one recipient.
type Transport interface {
	Send(ctx context.Context, to notification.User, message string) error
}
