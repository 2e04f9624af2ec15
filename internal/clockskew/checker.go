// Package clockskew periodically measures the local clock offset against an
// NTP server. Lifecycle and sample timestamps are wall-clock values, so an
// offset past the threshold is reported.
package clockskew

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThaysonScript/software-aging-v2/internal/timing"

	"github.com/beevik/ntp"
)

const (
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
	queryTimeout     = 5 * time.Second
)

type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	UnhealthyOffset
	Error
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case UnhealthyOffset:
		return "unhealthy_offset"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// QueryFunc returns the local clock offset relative to server.
type QueryFunc func(server string) (time.Duration, error)

type Checker struct {
	mu        sync.RWMutex
	status    Status
	server    string
	interval  time.Duration
	threshold time.Duration
	clock     timing.Clock
	query     QueryFunc
}

type Option func(*Checker)

// WithQuery replaces the NTP query.
func WithQuery(q QueryFunc) Option {
	return func(c *Checker) { c.query = q }
}

func WithClock(clock timing.Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

// NewChecker creates a checker for server. Zero interval and threshold fall
// back to 60s and 500ms.
func NewChecker(server string, interval, threshold time.Duration, opts ...Option) *Checker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	c := &Checker{
		server:    server,
		interval:  interval,
		threshold: threshold,
		status:    Status{Phase: Unchecked},
		clock:     timing.RealClock{},
		query:     queryNTP,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run checks immediately, then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) error {
	c.check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.check()
		}
	}
}

func (c *Checker) check() {
	offset, err := c.query(c.server)
	now := c.clock.Now()
	log := slog.With("component", "clockskew", "server", c.server)

	var next Status
	switch {
	case err != nil:
		next = Status{Error: err.Error(), Phase: Error, CheckedAt: now}
		log.Warn("Clock offset check failed.", "err", err)
	case offset.Abs() < c.threshold:
		next = Status{Offset: offset, Phase: Healthy, CheckedAt: now}
		log.Debug("Clock offset checked.", "offset", offset)
	default:
		next = Status{Offset: offset, Phase: UnhealthyOffset, CheckedAt: now}
		log.Warn("Clock offset exceeds threshold, recorded timestamps are skewed.",
			"offset", offset, "threshold", c.threshold)
	}

	c.mu.Lock()
	c.status = next
	c.mu.Unlock()
}

func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func queryNTP(server string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: queryTimeout})
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("invalid response from %s: %w", server, err)
	}
	return resp.ClockOffset, nil
}
