package workers

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoocall/internal/services"
)

// MissedCallSweeper marks calls that rang past RingTimeout as missed.
type MissedCallSweeper struct {
	Calls       services.CallService
	Interval    time.Duration
	RingTimeout time.Duration

	Logger *logrus.Logger
}

func (p *MissedCallSweeper) Start(ctx context.Context) error {
	if p.Calls == nil {
		return errors.New("MissedCallSweeper missing dependency: Calls must be set")
	}
	if p.Interval <= 0 {
		p.Interval = 15 * time.Second
	}
	if p.RingTimeout <= 0 {
		p.RingTimeout = 45 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	go p.run(ctx)
	return nil
}

func (p *MissedCallSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns how many calls were marked missed.
func (p *MissedCallSweeper) SweepOnce(ctx context.Context) int {
	log := p.Logger.WithField("component", "missed_call_sweeper")

	n, err := p.Calls.ExpireUnanswered(ctx, p.RingTimeout)
	if err != nil {
		log.WithError(err).Warn("sweep failed")
	}
	if n > 0 {
		log.WithField("count", n).Info("calls marked missed")
	}
	return n
}
