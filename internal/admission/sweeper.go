package admission

import (
	"context"
	"time"
)

// RunSweeper trims the store every interval until ctx is cancelled. It is
// the periodic half of retention; Submit trims opportunistically.
func (p *Pipeline) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("Retention sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			n, err := p.Trim(ctx)
			if err != nil {
				p.log.LogError(err, "Retention sweep failed")
				continue
			}
			if n > 0 {
				p.log.Info("Retention sweep removed messages", "count", n)
			}
		}
	}
}
