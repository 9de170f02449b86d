package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/videopress/backend/internal/archive"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/queue"
)

// Archiver stores one encoded output; *archive.Archive implements it.
type Archiver interface {
	Put(ctx context.Context, p queue.ArchivePayload) (*models.ArchivedOutput, error)
}

// JobSource is the queue the processor drains; *queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor processes archive jobs: read the local output, upload to S3, record it in the DB.
type ArchiveProcessor struct {
	archive Archiver
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewArchiveProcessor creates an archive job processor.
func NewArchiveProcessor(a Archiver, q JobSource, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{archive: a, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeArchive(job)
	if err != nil {
		return err
	}
	row, err := p.archive.Put(ctx, payload)
	if errors.Is(err, archive.ErrSourceGone) {
		// swept before the worker got to it
		p.logger.Info("archive source gone, dropping job", zap.String("job_id", job.ID), zap.String("file_id", payload.FileID), zap.Int("part", payload.Part))
		return nil
	}
	if err != nil {
		return err
	}
	p.logger.Info("archive job completed", zap.String("job_id", job.ID), zap.String("s3_key", row.S3Key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
