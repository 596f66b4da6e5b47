package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/circuitbreaker"
)

// BreakerAlerter wraps an Alerter with a circuit breaker so a dead webhook
// endpoint fails fast instead of costing a timeout per alert.
type BreakerAlerter struct {
	inner   Alerter
	breaker *circuitbreaker.Breaker
}

func NewBreakerAlerter(inner Alerter, logger *slog.Logger) *BreakerAlerter {
	name := alerterName(inner)
	return &BreakerAlerter{
		inner: inner,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("alert channel circuit state changed",
					"channel", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *BreakerAlerter) Send(ctx context.Context, alert Alert) error {
	if err := b.breaker.Allow(); err != nil {
		return fmt.Errorf("alert channel unavailable: %w", err)
	}
	if err := b.inner.Send(ctx, alert); err != nil {
		b.breaker.RecordFailure()
		return err
	}
	b.breaker.RecordSuccess()
	return nil
}
