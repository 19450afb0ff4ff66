package disputes

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/pkg/security"
	"freelance-market/dispute-court/dispute-court-backend/pkg/storage"
)

const (
	maxEvidenceBytes   = 25 << 20
	evidenceURLTimeout = 15 * time.Minute
)

type UploadEvidenceRequest struct {
	DisputeID   uuid.UUID
	FileName    string
	ContentType string
	Description string
	Body        io.Reader
}

// EvidenceService stores dispute evidence in object storage
type EvidenceService struct {
	repo      Repository
	store     storage.S3Client
	bucket    string
	audit     audit.Recorder
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewEvidenceService(repo Repository, store storage.S3Client, bucket string, recorder audit.Recorder, publisher events.Publisher, logger *zap.Logger) *EvidenceService {
	return &EvidenceService{
		repo:      repo,
		store:     store,
		bucket:    bucket,
		audit:     recorder,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload stores the file under the dispute prefix and records its checksum
func (s *EvidenceService) Upload(ctx context.Context, actor auth.Actor, req UploadEvidenceRequest) (*Evidence, error) {
	name := path.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == "/" {
		return nil, &ValidationError{Field: "file_name", Message: "is required"}
	}

	d, err := s.repo.Get(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsParty(actor.ID) && !actor.Role.IsStaff() {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "upload evidence", Rule: "only parties and staff"}
	}
	if d.Status.Closed() {
		return nil, &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: "upload evidence", Rule: "dispute is closed"}
	}

	id := uuid.New()
	key := fmt.Sprintf("disputes/%s/evidence/%s/%s", d.ID, id, name)
	sum, err := security.NewChecksumReader(io.LimitReader(req.Body, maxEvidenceBytes+1))
	if err != nil {
		return nil, err
	}
	if err := s.store.Upload(ctx, s.bucket, key, req.ContentType, sum); err != nil {
		return nil, fmt.Errorf("failed to store evidence: %w", err)
	}
	if sum.Size() > maxEvidenceBytes {
		if err := s.store.Delete(ctx, s.bucket, key); err != nil {
			s.logger.Warn("Failed to remove oversized evidence", zap.String("key", key), zap.Error(err))
		}
		return nil, &ValidationError{Field: "file", Message: "exceeds 25MB"}
	}

	e := &Evidence{
		ID:          id,
		DisputeID:   d.ID,
		UploaderID:  actor.ID,
		FileName:    name,
		ContentType: req.ContentType,
		SizeBytes:   sum.Size(),
		StorageKey:  key,
		Checksum:    sum.Sum(),
		Description: req.Description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateEvidence(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to save evidence: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "evidence.upload", EntityType: "dispute_evidence", EntityID: e.ID, After: e})
	s.publisher.Publish(ctx, events.New(events.EvidenceUploaded, d.ID, nil, e.ID, map[string]interface{}{
		"evidence_id": e.ID,
		"uploader_id": e.UploaderID,
		"file_name":   e.FileName,
		"size_bytes":  e.SizeBytes,
		"checksum":    e.Checksum,
	}))
	s.logger.Info("Evidence uploaded",
		zap.String("dispute_id", d.ID.String()),
		zap.String("evidence_id", e.ID.String()),
		zap.Int64("size", e.SizeBytes),
	)
	return e, nil
}

// List returns evidence metadata of a dispute
func (s *EvidenceService) List(ctx context.Context, actor auth.Actor, disputeID uuid.UUID) ([]Evidence, error) {
	d, err := s.repo.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if !CanAccess(d, actor) {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "list evidence", Rule: "only parties and staff"}
	}
	return s.repo.ListEvidence(ctx, disputeID)
}

// DownloadURL returns a short-lived link to the stored file
func (s *EvidenceService) DownloadURL(ctx context.Context, actor auth.Actor, evidenceID uuid.UUID) (string, error) {
	e, err := s.repo.GetEvidence(ctx, evidenceID)
	if err != nil {
		return "", err
	}
	d, err := s.repo.Get(ctx, e.DisputeID)
	if err != nil {
		return "", err
	}
	if !CanAccess(d, actor) {
		return "", &ForbiddenError{ActorID: actor.ID, Action: "download evidence", Rule: "only parties and staff"}
	}
	return s.store.GetPresignedURL(ctx, s.bucket, e.StorageKey, evidenceURLTimeout)
}
