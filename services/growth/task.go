package growth

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// HandleReconcileTask runs one reconciliation sweep on demand.
func (s *Service) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	n, err := s.Reconcile(ctx)
	if err != nil {
		return err
	}
	zap.L().Info("reconcile task finished", zap.String("task_type", t.Type()), zap.Int("finalized", n))
	return nil
}
