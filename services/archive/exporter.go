package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"growth-pipeline/services/growthevent"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

const exportPrefix = "growth-events"

// ObjectPutter is the subset of *minio.Client used by the exporter.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioExporter writes archived batches as JSON lines to object storage.
type MinioExporter struct {
	client ObjectPutter
	bucket string
}

func NewMinioExporter(client ObjectPutter, bucket string) *MinioExporter {
	return &MinioExporter{client: client, bucket: bucket}
}

func objectName(runAt time.Time, batch []*growthevent.GrowthEvent) string {
	return fmt.Sprintf("%s/%s/%d-%d.jsonl",
		exportPrefix,
		runAt.UTC().Format("2006/01/02"),
		batch[0].ID,
		batch[len(batch)-1].ID,
	)
}

func (e *MinioExporter) Export(ctx context.Context, runAt time.Time, batch []*growthevent.GrowthEvent) error {
	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode growth event %d: %w", ev.ID, err)
		}
	}

	name := objectName(runAt, batch)
	info, err := e.client.PutObject(ctx, e.bucket, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", e.bucket, name, err)
	}

	zap.L().Info("archive batch exported",
		zap.String("bucket", e.bucket),
		zap.String("object", name),
		zap.Int64("size", info.Size),
		zap.Int("events", len(batch)),
	)
	return nil
}
