package disputes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"freelance-market/dispute-court/dispute-court-backend/internal/database"
)

type Repository interface {
	// WithDisputeLock runs fn in one transaction holding the dispute row lock.
	// fn receives the current row; it must call Update itself to persist changes.
	WithDisputeLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, d *Dispute) error) error

	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id uuid.UUID) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	List(ctx context.Context, filter ListFilter) ([]Dispute, error)
	CountActiveByStaff(ctx context.Context, staffID uuid.UUID) (int, error)
	ListAppealDeadlinesBetween(ctx context.Context, from, to time.Time) ([]Dispute, error)

	AppendActivity(ctx context.Context, a *Activity) error
	ListActivities(ctx context.Context, disputeID uuid.UUID) ([]Activity, error)

	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	UpdateMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, disputeID uuid.UUID) ([]Message, error)

	CreateSettlement(ctx context.Context, s *Settlement) error
	GetSettlement(ctx context.Context, id uuid.UUID) (*Settlement, error)
	UpdateSettlement(ctx context.Context, s *Settlement) error
	ListSettlements(ctx context.Context, disputeID uuid.UUID) ([]Settlement, error)

	CreateEvidence(ctx context.Context, e *Evidence) error
	GetEvidence(ctx context.Context, id uuid.UUID) (*Evidence, error)
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]Evidence, error)
}

var activeStatuses = []string{
	string(StatusOpen), string(StatusPendingReview), string(StatusInReview), string(StatusInfoRequested),
	string(StatusRejectionAppealed), string(StatusAppealed),
}

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) conn(ctx context.Context) sqlx.ExtContext {
	return database.Conn(ctx, r.db)
}

func (r *postgresRepository) WithDisputeLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, d *Dispute) error) error {
	return database.InTx(ctx, r.db, func(ctx context.Context) error {
		var d Dispute
		err := sqlx.GetContext(ctx, r.conn(ctx), &d, "SELECT * FROM disputes WHERE id = $1 FOR UPDATE", id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDisputeNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock dispute: %w", err)
		}
		return fn(ctx, &d)
	})
}

func (r *postgresRepository) Create(ctx context.Context, d *Dispute) error {
	query := `
		INSERT INTO disputes (
			id, project_id, milestone_id, raised_by, against, group_id, dispute_type, status, phase,
			category, priority, reason, disputed_amount, result, is_appealed, created_at, updated_at
		) VALUES (
			:id, :project_id, :milestone_id, :raised_by, :against, :group_id, :dispute_type, :status, :phase,
			:category, :priority, :reason, :disputed_amount, :result, :is_appealed, :created_at, :updated_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, d)
	return err
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (*Dispute, error) {
	var d Dispute
	err := sqlx.GetContext(ctx, r.conn(ctx), &d, "SELECT * FROM disputes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *postgresRepository) Update(ctx context.Context, d *Dispute) error {
	query := `
		UPDATE disputes SET
			group_id = :group_id,
			status = :status,
			phase = :phase,
			category = :category,
			priority = :priority,
			assigned_staff_id = :assigned_staff_id,
			assigned_at = :assigned_at,
			result = :result,
			resolution = :resolution,
			resolved_by_id = :resolved_by_id,
			resolved_at = :resolved_at,
			winner_id = :winner_id,
			loser_id = :loser_id,
			info_request_reason = :info_request_reason,
			info_requested_by_id = :info_requested_by_id,
			info_requested_at = :info_requested_at,
			info_provided_at = :info_provided_at,
			dismissal_hold_until = :dismissal_hold_until,
			rejection_appeal_reason = :rejection_appeal_reason,
			rejection_appealed_at = :rejection_appealed_at,
			rejection_appeal_resolution = :rejection_appeal_resolution,
			rejection_appeal_resolved_at = :rejection_appeal_resolved_at,
			is_appealed = :is_appealed,
			appeal_reason = :appeal_reason,
			appealed_by_id = :appealed_by_id,
			appealed_at = :appealed_at,
			appeal_deadline = :appeal_deadline,
			appeal_resolved_by_id = :appeal_resolved_by_id,
			appeal_resolved_at = :appeal_resolved_at,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, d)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context, filter ListFilter) ([]Dispute, error) {
	var out []Dispute
	query := "SELECT * FROM disputes WHERE 1=1"
	var args []interface{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.AssignedStaffID != nil {
		query += fmt.Sprintf(" AND assigned_staff_id = $%d", argCount)
		args = append(args, *filter.AssignedStaffID)
		argCount++
	}
	if filter.PartyID != nil {
		query += fmt.Sprintf(" AND (raised_by = $%d OR against = $%d)", argCount, argCount)
		args = append(args, *filter.PartyID)
		argCount++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	err := sqlx.SelectContext(ctx, r.conn(ctx), &out, query, args...)
	return out, err
}

func (r *postgresRepository) CountActiveByStaff(ctx context.Context, staffID uuid.UUID) (int, error) {
	query, args, err := sqlx.In("SELECT COUNT(*) FROM disputes WHERE assigned_staff_id = ? AND status IN (?)", staffID, activeStatuses)
	if err != nil {
		return 0, err
	}
	var n int
	err = sqlx.GetContext(ctx, r.conn(ctx), &n, r.db.Rebind(query), args...)
	return n, err
}

func (r *postgresRepository) ListAppealDeadlinesBetween(ctx context.Context, from, to time.Time) ([]Dispute, error) {
	var out []Dispute
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out, `
		SELECT * FROM disputes
		WHERE appeal_deadline > $1 AND appeal_deadline <= $2 AND status IN ('RESOLVED', 'REJECTED')
		ORDER BY appeal_deadline`, from, to)
	return out, err
}

func (r *postgresRepository) AppendActivity(ctx context.Context, a *Activity) error {
	query := `
		INSERT INTO dispute_activities (
			id, dispute_id, actor_id, action, from_status, to_status, from_phase, to_phase, note, created_at
		) VALUES (
			:id, :dispute_id, :actor_id, :action, :from_status, :to_status, :from_phase, :to_phase, :note, :created_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, a)
	return err
}

func (r *postgresRepository) ListActivities(ctx context.Context, disputeID uuid.UUID) ([]Activity, error) {
	var out []Activity
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM dispute_activities WHERE dispute_id = $1 ORDER BY created_at, id", disputeID)
	return out, err
}

func (r *postgresRepository) CreateMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO dispute_messages (id, dispute_id, hearing_id, sender_id, content, is_hidden, created_at)
		VALUES (:id, :dispute_id, :hearing_id, :sender_id, :content, :is_hidden, :created_at)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, m)
	return err
}

func (r *postgresRepository) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	err := sqlx.GetContext(ctx, r.conn(ctx), &m, "SELECT * FROM dispute_messages WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *postgresRepository) UpdateMessage(ctx context.Context, m *Message) error {
	query := `
		UPDATE dispute_messages SET
			is_hidden = :is_hidden,
			hidden_reason = :hidden_reason,
			hidden_by_id = :hidden_by_id
		WHERE id = :id`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, m)
	return err
}

func (r *postgresRepository) ListMessages(ctx context.Context, disputeID uuid.UUID) ([]Message, error) {
	var out []Message
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM dispute_messages WHERE dispute_id = $1 ORDER BY created_at, id", disputeID)
	return out, err
}

func (r *postgresRepository) CreateSettlement(ctx context.Context, s *Settlement) error {
	query := `
		INSERT INTO dispute_settlements (
			id, dispute_id, proposer_id, amount_to_client, amount_to_freelancer, terms, status, expires_at, created_at
		) VALUES (
			:id, :dispute_id, :proposer_id, :amount_to_client, :amount_to_freelancer, :terms, :status, :expires_at, :created_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, s)
	return err
}

func (r *postgresRepository) GetSettlement(ctx context.Context, id uuid.UUID) (*Settlement, error) {
	var s Settlement
	err := sqlx.GetContext(ctx, r.conn(ctx), &s, "SELECT * FROM dispute_settlements WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *postgresRepository) UpdateSettlement(ctx context.Context, s *Settlement) error {
	query := `
		UPDATE dispute_settlements SET
			status = :status,
			responder_id = :responder_id,
			responded_at = :responded_at
		WHERE id = :id`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, s)
	return err
}

func (r *postgresRepository) ListSettlements(ctx context.Context, disputeID uuid.UUID) ([]Settlement, error) {
	var out []Settlement
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM dispute_settlements WHERE dispute_id = $1 ORDER BY created_at, id", disputeID)
	return out, err
}

func (r *postgresRepository) CreateEvidence(ctx context.Context, e *Evidence) error {
	query := `
		INSERT INTO dispute_evidence (
			id, dispute_id, uploader_id, file_name, content_type, size_bytes, storage_key, checksum, description, created_at
		) VALUES (
			:id, :dispute_id, :uploader_id, :file_name, :content_type, :size_bytes, :storage_key, :checksum, :description, :created_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, e)
	return err
}

func (r *postgresRepository) GetEvidence(ctx context.Context, id uuid.UUID) (*Evidence, error) {
	var e Evidence
	err := sqlx.GetContext(ctx, r.conn(ctx), &e, "SELECT * FROM dispute_evidence WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEvidenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *postgresRepository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]Evidence, error) {
	var out []Evidence
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at, id", disputeID)
	return out, err
}
