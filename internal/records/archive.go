package records

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/hearings"
	"freelance-market/dispute-court/dispute-court-backend/pkg/storage"
)

// Archive stores the minutes of ended hearings in the records bucket
type Archive struct {
	store  storage.S3Client
	bucket string
	now    func() time.Time
	logger *zap.Logger
}

func NewArchive(store storage.S3Client, bucket string, logger *zap.Logger) *Archive {
	return &Archive{
		store:  store,
		bucket: bucket,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// MinutesKey is where the minutes of a hearing are archived
func MinutesKey(h *hearings.Hearing) string {
	return fmt.Sprintf("hearings/%s/%s/minutes.pdf", h.DisputeID, h.ID)
}

// ArchiveMinutes implements hearings.Archiver
func (a *Archive) ArchiveMinutes(ctx context.Context, detail *hearings.Detail) (string, error) {
	body, err := RenderMinutes(detail, a.now())
	if err != nil {
		return "", err
	}
	key := MinutesKey(detail.Hearing)
	if err := a.store.Upload(ctx, a.bucket, key, "application/pdf", bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("failed to archive minutes: %w", err)
	}
	a.logger.Debug("Minutes uploaded", zap.String("bucket", a.bucket), zap.String("key", key), zap.Int("bytes", len(body)))
	return key, nil
}
