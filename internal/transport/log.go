package transport

import (
	"context"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

// Log is a dry-run transport: it writes every message to the log and always
// succeeds. Default driver for local development.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	return &Log{log: log}
}

func (t *Log) Send(_ context.Context, to notification.User, message string) error {
	t.log.Info("message delivered (dry-run)",
		logx.String("user", to.ID),
		logx.String("message", message),
	)
	return nil
}
