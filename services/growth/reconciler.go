package growth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler periodically re-drives stale PENDING events.
type Reconciler struct {
	service  *Service
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewReconciler(service *Service, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{service: service, interval: interval}
}

func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)
}

func (r *Reconciler) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)
	zap.L().Info("[Reconciler] started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.service.Reconcile(ctx); err != nil {
				zap.L().Error("[Reconciler] sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Info("[Reconciler] stopped")
			return
		}
	}
}
