package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/Smr002/goldfit-notify/internal/notification"
	"github.com/Smr002/goldfit-notify/internal/storage"
	"github.com/Smr002/goldfit-notify/internal/transport"
	"github.com/Smr002/goldfit-notify/pkg/logx"
)

// Config controls the dispatch worker.
type Config struct {
	Enabled bool

	// PollInterval drives the due-notification scan. Fire instants are
	// honored to within one interval; this is not a precise scheduler.
	PollInterval time.Duration

	// Workers is the number of concurrent dispatch cycles.
	Workers int

	// Fanout bounds concurrent per-recipient sends within one cycle.
	Fanout int

	// RatePerSec throttles transport calls across all cycles.
	RatePerSec int

	// CycleTimeout bounds one dispatch cycle; Sending notifications claimed
	// longer ago are swept to Failed.
	CycleTimeout time.Duration

	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration

	// RetryMax is the per-recipient transport retry budget. Zero means
	// unset (the default of 3 applies); a negative value disables retries.
	RetryMax int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Fanout <= 0 {
		c.Fanout = 8
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 10
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 5 * time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RetryMax == 0 {
		c.RetryMax = 3
	} else if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

// CycleStats summarizes one dispatch cycle for the history ring.
type CycleStats struct {
	NotificationID string
	FireAt         time.Time
	Started        time.Time
	Duration       time.Duration
	Total          int
	Delivered      int
	Failed         int
	Skipped        int
	Error          string
}

// Service is the dispatch worker: a polling loop that claims due
// notifications, expands their audience, renders per-recipient content and
// fans out delivery.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	store storage.Store
	dir   notification.UserDirectory
	tr    transport.Transport

	limiter *rate.Limiter
	c       *cron.Cron

	queue  chan string
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed when workers fully exit.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	hmu     sync.Mutex
	history []CycleStats
}

// Snapshot is a point-in-time view for operators.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	History  []CycleStats
}
