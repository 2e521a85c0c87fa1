package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/astromechza/copypad/pkg/metrics"
)

// Sweep deletes documents idle for longer than expiry every interval until ctx
// is done. It returns immediately when expiry is not positive.
func Sweep(ctx context.Context, s Store, expiry, interval time.Duration) error {
	if expiry <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			n, err := s.Expire(ctx, time.Now().Add(-expiry))
			if err != nil {
				slog.Error("failed to expire documents", "err", err)
				continue
			}
			if n > 0 {
				metrics.DocumentsExpiredTotal.Add(float64(n))
				slog.Info("expired documents", "count", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
