package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/queue"
	"github.com/videopress/backend/pkg/storage"
)

const forgetTimeout = 30 * time.Second

// Store is the persistence used by Archive; *Repository implements it.
type Store interface {
	Upsert(ctx context.Context, a *models.ArchivedOutput) error
	Get(ctx context.Context, fileID string, part int) (*models.ArchivedOutput, error)
	DeleteByFile(ctx context.Context, fileID string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}

// Objects is the object storage used by Archive; *storage.S3 implements it.
type Objects interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, metadata map[string]string) error
	DeleteObject(ctx context.Context, bucket, key string) error
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key, filename string, expires time.Duration) (string, error)
	OutputsBucket() string
	PresignExpire() time.Duration
}

// ErrSourceGone marks an archive job whose local output was already swept.
var ErrSourceGone = errors.New("archive source file is gone")

// Archive copies outputs to object storage and keeps the index rows in step.
type Archive struct {
	store   Store
	objects Objects
	now     func() time.Time
	logger  *zap.Logger
}

// New creates an Archive.
func New(store Store, objects Objects, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{store: store, objects: objects, now: time.Now, logger: logger}
}

// Put uploads one local output and records it. A missing local file returns ErrSourceGone.
func (a *Archive) Put(ctx context.Context, p queue.ArchivePayload) (*models.ArchivedOutput, error) {
	f, err := os.Open(p.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSourceGone
	}
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	size := p.Size
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}
	key := storage.OutputKey(p.SessionID, p.FileID, p.Name)
	meta := map[string]string{"file-id": p.FileID, "algorithm": p.Algorithm}
	if p.Checksum != "" {
		meta["blake2b"] = p.Checksum
	}
	if err := a.objects.Upload(ctx, a.objects.OutputsBucket(), key, storage.ContentTypeForFilename(p.Name), f, size, meta); err != nil {
		return nil, fmt.Errorf("s3 upload: %w", err)
	}

	row := &models.ArchivedOutput{
		SessionID: p.SessionID,
		FileID:    p.FileID,
		Part:      p.Part,
		S3Key:     key,
		Size:      size,
		Algorithm: p.Algorithm,
		Checksum:  p.Checksum,
		ExpiresAt: p.ExpiresAt,
	}
	if err := a.store.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("record archive: %w", err)
	}
	a.logger.Info("output archived", zap.String("file_id", p.FileID), zap.Int("part", p.Part), zap.String("s3_key", key))
	return row, nil
}

// DownloadURL presigns the archived copy of a part owned by sessionID.
func (a *Archive) DownloadURL(ctx context.Context, sessionID, fileID string, part int, filename string) (string, time.Duration, error) {
	row, err := a.store.Get(ctx, fileID, part)
	if err != nil {
		return "", 0, err
	}
	if row.SessionID != sessionID || !a.now().Before(row.ExpiresAt) {
		return "", 0, apperr.New(apperr.KindNotFound, "output is not archived")
	}
	expire := a.objects.PresignExpire()
	url, err := a.objects.GeneratePresignedDownloadURL(ctx, a.objects.OutputsBucket(), row.S3Key, filename, expire)
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindInternal, err, "failed to generate download URL")
	}
	return url, expire, nil
}

// Forget deletes every archived part of a file from the index and storage. Objects under
// the file's prefix are removed even when no row was recorded for them.
func (a *Archive) Forget(ctx context.Context, sessionID, fileID string) error {
	keys, err := a.store.DeleteByFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("delete archive rows: %w", err)
	}
	if err := a.deleteObjects(ctx, keys); err != nil {
		return err
	}
	if _, err := a.objects.DeletePrefix(ctx, a.objects.OutputsBucket(), storage.OutputPrefix(sessionID, fileID)); err != nil {
		return fmt.Errorf("delete archive prefix: %w", err)
	}
	return nil
}

// Listener adapts Forget to the registry's removal callback. Deletion runs in the background.
func (a *Archive) Listener() func(sessionID, uploadID string) {
	return func(sessionID, uploadID string) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), forgetTimeout)
			defer cancel()
			if err := a.Forget(ctx, sessionID, uploadID); err != nil {
				a.logger.Warn("forget archive failed", zap.String("session_id", sessionID), zap.String("file_id", uploadID), zap.Error(err))
			}
		}()
	}
}

// Expire removes archives whose retention has passed.
func (a *Archive) Expire(ctx context.Context) (int, error) {
	keys, err := a.store.DeleteExpired(ctx, a.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired rows: %w", err)
	}
	return len(keys), a.deleteObjects(ctx, keys)
}

// RunExpiry calls Expire every interval until ctx is done.
func (a *Archive) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Expire(ctx)
			if err != nil {
				a.logger.Warn("archive expiry failed", zap.Error(err))
			} else if n > 0 {
				a.logger.Info("archives expired", zap.Int("count", n))
			}
		}
	}
}

func (a *Archive) deleteObjects(ctx context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		if err := a.objects.DeleteObject(ctx, a.objects.OutputsBucket(), k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
