package hours

import (
	"context"
	"log/slog"
	"time"

	"voice-gateway/pkg/logger"
)

type Availability struct {
	Available bool   `json:"available"`
	Rule      string `json:"rule,omitempty"`
}

// OutOfHoursCall identifies a call that was turned away by the schedule.
type OutOfHoursCall struct {
	CallID string
	From   string
}

// Gate answers whether calls are accepted right now and queues callbacks otherwise.
type Gate struct {
	schedule *Schedule
	queue    CallbackQueue
	log      *slog.Logger

	Now func() time.Time
}

func NewGate(schedule *Schedule, queue CallbackQueue, log *slog.Logger) *Gate {
	return &Gate{
		schedule: schedule,
		queue:    queue,
		log:      logger.OrDefault(log).With("component", "hours"),
		Now:      time.Now,
	}
}

func (g *Gate) IsWithinCallHours(ctx context.Context) (Availability, error) {
	rule, ok := g.schedule.Match(g.Now())
	return Availability{Available: ok, Rule: rule}, nil
}

func (g *Gate) HandleOutOfHours(ctx context.Context, call OutOfHoursCall) error {
	req := CallbackRequest{CallID: call.CallID, From: call.From, ReceivedAt: g.Now().UTC()}
	if g.queue == nil {
		g.log.Warn("no callback queue configured; dropping out-of-hours call", "call_id", call.CallID)
		return nil
	}
	if err := g.queue.Enqueue(ctx, req); err != nil {
		return err
	}
	g.log.Info("callback queued for out-of-hours call", "call_id", call.CallID, "from", call.From)
	return nil
}
