package archive

import (
	"context"
	"fmt"
	"time"

	"growth-pipeline/pkg/config"
	"growth-pipeline/services/growthevent"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultRetention = 180 * 24 * time.Hour
	DefaultBatchSize = 500
)

// Exporter receives every batch after it has been committed to the archive.
type Exporter interface {
	Export(ctx context.Context, runAt time.Time, batch []*growthevent.GrowthEvent) error
}

// Result summarizes one archival run.
type Result struct {
	Cutoff   time.Time `json:"cutoff"`
	Batches  int       `json:"batches"`
	Archived int       `json:"archived"`
	LastID   int64     `json:"lastId,string"`
}

// Job moves growth events past the retention period into the archive table.
type Job struct {
	store     *growthevent.Store
	exporter  Exporter
	retention time.Duration
	batchSize int
	now       func() time.Time
}

type JobParams struct {
	fx.In
	Store    *growthevent.Store
	Config   *config.Config `optional:"true"`
	Exporter Exporter       `optional:"true"`
}

func NewJob(p JobParams) *Job {
	j := &Job{
		store:     p.Store,
		exporter:  p.Exporter,
		retention: DefaultRetention,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	if p.Config != nil {
		if p.Config.Growth.Archive.Retention > 0 {
			j.retention = p.Config.Growth.Archive.Retention
		}
		if p.Config.Growth.Archive.BatchSize > 0 {
			j.batchSize = p.Config.Growth.Archive.BatchSize
		}
	}
	return j
}

// Run archives every event that occurred before now minus retention. Each
// batch commits on its own, so a failed run leaves earlier batches archived
// and the next run picks up the rest.
func (j *Job) Run(ctx context.Context) (Result, error) {
	runAt := j.now().UTC()
	res := Result{Cutoff: runAt.Add(-j.retention)}
	log := zap.L().With(zap.Time("cutoff", res.Cutoff), zap.Int("batch_size", j.batchSize))
	log.Info("archive run started")

	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	for {
		if err := ctx.Err(); err != nil {
			log.Warn("archive run interrupted", zap.Int("archived", res.Archived), zap.Error(err))
			return res, err
		}

		batch, err := j.store.ArchiveBatch(ctx, res.LastID, res.Cutoff, j.batchSize, runAt)
		if err != nil {
			runFailures.Inc()
			log.Error("archive batch failed", zap.Int64("after_id", res.LastID), zap.Error(err))
			return res, fmt.Errorf("archive run: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		res.Batches++
		res.Archived += len(batch)
		res.LastID = batch[len(batch)-1].ID
		archived.Add(float64(len(batch)))

		if j.exporter != nil {
			if err := j.exporter.Export(ctx, runAt, batch); err != nil {
				exportFailures.Inc()
				log.Error("archive export failed",
					zap.Int64("first_id", batch[0].ID),
					zap.Int64("last_id", res.LastID),
					zap.Error(err),
				)
			}
		}
	}

	log.Info("archive run finished",
		zap.Int("batches", res.Batches),
		zap.Int("archived", res.Archived),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}
