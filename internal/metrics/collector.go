package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventHeartbeatSent    EventType = "heartbeat_sent"
	EventHeartbeatCreated EventType = "heartbeat_created"
	EventKeepaliveFailed  EventType = "keepalive_failed"
	EventResourceCreated  EventType = "resource_created"
	EventRoundCompleted   EventType = "round_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Project   string
	Resource  string
	Duration  time.Duration
	Error     string
	Total     int
	Failed    int
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full. A nil collector ignores events.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metrics buffer full, dropping event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Debug("Metrics collector started")
	defer c.logger.Debug("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventHeartbeatSent:
		c.metrics.RecordSuccess(event.Project, event.Duration, false, event.Timestamp)

	case EventHeartbeatCreated:
		c.metrics.RecordSuccess(event.Project, event.Duration, true, event.Timestamp)

	case EventKeepaliveFailed:
		c.metrics.RecordFailure(event.Project, event.Duration, event.Error, event.Timestamp)

	case EventResourceCreated:
		c.metrics.RecordResourceCreated(event.Project)

	case EventRoundCompleted:
		c.metrics.RecordRound(event.Total, event.Failed, event.Timestamp)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
