package hearings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"freelance-market/dispute-court/dispute-court-backend/internal/database"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
)

// Repository persists hearings and the participants, statements and questions they own
type Repository interface {
	// WithDisputeLock serialises hearing work of one dispute (one active hearing rule)
	WithDisputeLock(ctx context.Context, disputeID uuid.UUID, fn func(ctx context.Context) error) error
	// WithModeratorLock serialises booking checks of one moderator across disputes
	WithModeratorLock(ctx context.Context, moderatorID uuid.UUID, fn func(ctx context.Context) error) error
	// WithHearingLock loads the hearing under a row lock; fn must call UpdateHearing to persist it
	WithHearingLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, h *Hearing) error) error

	CreateHearing(ctx context.Context, h *Hearing) error
	GetHearing(ctx context.Context, id uuid.UUID) (*Hearing, error)
	UpdateHearing(ctx context.Context, h *Hearing) error
	ListByDispute(ctx context.Context, disputeID uuid.UUID) ([]Hearing, error)
	ListByModerator(ctx context.Context, moderatorID uuid.UUID, statuses []Status) ([]Hearing, error)
	ListByStatus(ctx context.Context, status Status) ([]Hearing, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Hearing, error)

	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, hearingID, userID uuid.UUID) (*Participant, error)
	UpdateParticipant(ctx context.Context, p *Participant) error
	ListParticipants(ctx context.Context, hearingID uuid.UUID) ([]Participant, error)

	NextStatementIndex(ctx context.Context, hearingID uuid.UUID) (int, error)
	CreateStatement(ctx context.Context, s *Statement) error
	GetStatement(ctx context.Context, id uuid.UUID) (*Statement, error)
	UpdateStatement(ctx context.Context, s *Statement) error
	ListStatements(ctx context.Context, hearingID uuid.UUID) ([]Statement, error)

	NextQuestionIndex(ctx context.Context, hearingID uuid.UUID) (int, error)
	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error)
	UpdateQuestion(ctx context.Context, q *Question) error
	ListQuestions(ctx context.Context, hearingID uuid.UUID) ([]Question, error)
	ListOverdueQuestions(ctx context.Context, now time.Time) ([]Question, error)
}

const (
	uniqueViolation          = "23505"
	statementOrderConstraint = "hearing_statements_hearing_id_order_index_key"
	questionOrderConstraint  = "hearing_questions_hearing_id_order_index_key"
	oneInProgressConstraint  = "hearings_one_in_progress_per_dispute"
)

type postgresRepository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) conn(ctx context.Context) sqlx.ExtContext {
	return database.Conn(ctx, r.db)
}

func (r *postgresRepository) WithDisputeLock(ctx context.Context, disputeID uuid.UUID, fn func(ctx context.Context) error) error {
	return database.InTx(ctx, r.db, func(ctx context.Context) error {
		var id uuid.UUID
		err := sqlx.GetContext(ctx, r.conn(ctx), &id, "SELECT id FROM disputes WHERE id = $1 FOR UPDATE", disputeID)
		if errors.Is(err, sql.ErrNoRows) {
			return disputes.ErrDisputeNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock dispute: %w", err)
		}
		return fn(ctx)
	})
}

// WithModeratorLock takes a transaction-scoped advisory lock; it is released on commit or rollback
func (r *postgresRepository) WithModeratorLock(ctx context.Context, moderatorID uuid.UUID, fn func(ctx context.Context) error) error {
	return database.InTx(ctx, r.db, func(ctx context.Context) error {
		if _, err := r.conn(ctx).ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", "moderator:"+moderatorID.String()); err != nil {
			return fmt.Errorf("failed to lock moderator: %w", err)
		}
		return fn(ctx)
	})
}

func (r *postgresRepository) WithHearingLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, h *Hearing) error) error {
	return database.InTx(ctx, r.db, func(ctx context.Context) error {
		var h Hearing
		err := sqlx.GetContext(ctx, r.conn(ctx), &h, "SELECT * FROM hearings WHERE id = $1 FOR UPDATE", id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrHearingNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock hearing: %w", err)
		}
		return fn(ctx, &h)
	})
}

func (r *postgresRepository) CreateHearing(ctx context.Context, h *Hearing) error {
	query := `
		INSERT INTO hearings (
			id, dispute_id, hearing_number, status, tier, is_emergency, scheduled_at,
			estimated_duration_minutes, agenda, required_documents, external_meeting_link, moderator_id,
			response_deadline, current_speaker_role, is_chat_room_active, pending_actions,
			reschedule_count, previous_hearing_id, last_rescheduled_at, created_at, updated_at
		) VALUES (
			:id, :dispute_id, :hearing_number, :status, :tier, :is_emergency, :scheduled_at,
			:estimated_duration_minutes, :agenda, :required_documents, :external_meeting_link, :moderator_id,
			:response_deadline, :current_speaker_role, :is_chat_room_active, :pending_actions,
			:reschedule_count, :previous_hearing_id, :last_rescheduled_at, :created_at, :updated_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, h)
	return err
}

func (r *postgresRepository) GetHearing(ctx context.Context, id uuid.UUID) (*Hearing, error) {
	var h Hearing
	err := sqlx.GetContext(ctx, r.conn(ctx), &h, "SELECT * FROM hearings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHearingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *postgresRepository) UpdateHearing(ctx context.Context, h *Hearing) error {
	query := `
		UPDATE hearings SET
			status = :status,
			scheduled_at = :scheduled_at,
			started_at = :started_at,
			ended_at = :ended_at,
			agenda = :agenda,
			current_speaker_role = :current_speaker_role,
			speaker_grace_role = :speaker_grace_role,
			speaker_grace_until = :speaker_grace_until,
			moderator_away_at = :moderator_away_at,
			is_chat_room_active = :is_chat_room_active,
			summary = :summary,
			findings = :findings,
			pending_actions = :pending_actions,
			cancel_reason = :cancel_reason,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, h)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == oneInProgressConstraint {
			return invalidHearing(h, "start", "another hearing of this dispute is in progress")
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrHearingNotFound
	}
	return nil
}

func (r *postgresRepository) ListByDispute(ctx context.Context, disputeID uuid.UUID) ([]Hearing, error) {
	var out []Hearing
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM hearings WHERE dispute_id = $1 ORDER BY hearing_number", disputeID)
	return out, err
}

func (r *postgresRepository) ListByModerator(ctx context.Context, moderatorID uuid.UUID, statuses []Status) ([]Hearing, error) {
	query, args, err := sqlx.In("SELECT * FROM hearings WHERE moderator_id = ? AND status IN (?) ORDER BY scheduled_at", moderatorID, statuses)
	if err != nil {
		return nil, err
	}
	var out []Hearing
	err = sqlx.SelectContext(ctx, r.conn(ctx), &out, r.db.Rebind(query), args...)
	return out, err
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status Status) ([]Hearing, error) {
	var out []Hearing
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM hearings WHERE status = $1 ORDER BY scheduled_at", status)
	return out, err
}

func (r *postgresRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Hearing, error) {
	var out []Hearing
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out, `
		SELECT h.* FROM hearings h
		JOIN hearing_participants p ON p.hearing_id = h.id
		WHERE p.user_id = $1
		ORDER BY h.scheduled_at DESC`, userID)
	return out, err
}

func (r *postgresRepository) CreateParticipant(ctx context.Context, p *Participant) error {
	query := `
		INSERT INTO hearing_participants (
			id, hearing_id, user_id, role, is_required, invited_at, confirmed_at, response_deadline,
			joined_at, left_at, is_online, last_online_at, total_online_minutes, has_submitted_statement
		) VALUES (
			:id, :hearing_id, :user_id, :role, :is_required, :invited_at, :confirmed_at, :response_deadline,
			:joined_at, :left_at, :is_online, :last_online_at, :total_online_minutes, :has_submitted_statement
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, p)
	return err
}

func (r *postgresRepository) GetParticipant(ctx context.Context, hearingID, userID uuid.UUID) (*Participant, error) {
	var p Participant
	err := sqlx.GetContext(ctx, r.conn(ctx), &p,
		"SELECT * FROM hearing_participants WHERE hearing_id = $1 AND user_id = $2", hearingID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) UpdateParticipant(ctx context.Context, p *Participant) error {
	query := `
		UPDATE hearing_participants SET
			confirmed_at = :confirmed_at,
			joined_at = :joined_at,
			left_at = :left_at,
			is_online = :is_online,
			last_online_at = :last_online_at,
			total_online_minutes = :total_online_minutes,
			has_submitted_statement = :has_submitted_statement
		WHERE id = :id`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, p)
	return err
}

func (r *postgresRepository) ListParticipants(ctx context.Context, hearingID uuid.UUID) ([]Participant, error) {
	var out []Participant
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM hearing_participants WHERE hearing_id = $1 ORDER BY invited_at, role", hearingID)
	return out, err
}

func (r *postgresRepository) NextStatementIndex(ctx context.Context, hearingID uuid.UUID) (int, error) {
	var next int
	err := sqlx.GetContext(ctx, r.conn(ctx), &next,
		"SELECT COALESCE(MAX(order_index) + 1, 0) FROM hearing_statements WHERE hearing_id = $1", hearingID)
	return next, err
}

func (r *postgresRepository) CreateStatement(ctx context.Context, s *Statement) error {
	query := `
		INSERT INTO hearing_statements (
			id, hearing_id, participant_id, author_id, type, title, content, status, attachments,
			reply_to_statement_id, retraction_of_statement_id, order_index, submitted_at, created_at, updated_at
		) VALUES (
			:id, :hearing_id, :participant_id, :author_id, :type, :title, :content, :status, :attachments,
			:reply_to_statement_id, :retraction_of_statement_id, :order_index, :submitted_at, :created_at, :updated_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, s)
	return orderingConflict(err, statementOrderConstraint, s.HearingID, s.OrderIndex)
}

func (r *postgresRepository) GetStatement(ctx context.Context, id uuid.UUID) (*Statement, error) {
	var s Statement
	err := sqlx.GetContext(ctx, r.conn(ctx), &s, "SELECT * FROM hearing_statements WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *postgresRepository) UpdateStatement(ctx context.Context, s *Statement) error {
	query := `
		UPDATE hearing_statements SET
			type = :type,
			title = :title,
			content = :content,
			status = :status,
			attachments = :attachments,
			reply_to_statement_id = :reply_to_statement_id,
			superseded_by_id = :superseded_by_id,
			order_index = :order_index,
			is_redacted = :is_redacted,
			redacted_reason = :redacted_reason,
			redacted_by_id = :redacted_by_id,
			redacted_at = :redacted_at,
			submitted_at = :submitted_at,
			updated_at = :updated_at
		WHERE id = :id`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, s)
	return orderingConflict(err, statementOrderConstraint, s.HearingID, s.OrderIndex)
}

func (r *postgresRepository) ListStatements(ctx context.Context, hearingID uuid.UUID) ([]Statement, error) {
	var out []Statement
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM hearing_statements WHERE hearing_id = $1 ORDER BY order_index NULLS LAST, created_at", hearingID)
	return out, err
}

func (r *postgresRepository) NextQuestionIndex(ctx context.Context, hearingID uuid.UUID) (int, error) {
	var next int
	err := sqlx.GetContext(ctx, r.conn(ctx), &next,
		"SELECT COALESCE(MAX(order_index) + 1, 0) FROM hearing_questions WHERE hearing_id = $1", hearingID)
	return next, err
}

func (r *postgresRepository) CreateQuestion(ctx context.Context, q *Question) error {
	query := `
		INSERT INTO hearing_questions (
			id, hearing_id, asked_by_id, target_user_id, question, status, deadline, is_required, order_index, created_at
		) VALUES (
			:id, :hearing_id, :asked_by_id, :target_user_id, :question, :status, :deadline, :is_required, :order_index, :created_at
		)`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, q)
	idx := q.OrderIndex
	return orderingConflict(err, questionOrderConstraint, q.HearingID, &idx)
}

func (r *postgresRepository) GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error) {
	var q Question
	err := sqlx.GetContext(ctx, r.conn(ctx), &q, "SELECT * FROM hearing_questions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *postgresRepository) UpdateQuestion(ctx context.Context, q *Question) error {
	query := `
		UPDATE hearing_questions SET
			answer = :answer,
			status = :status,
			deadline = :deadline,
			answered_at = :answered_at,
			cancelled_at = :cancelled_at,
			cancelled_by_id = :cancelled_by_id
		WHERE id = :id`
	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, q)
	return err
}

func (r *postgresRepository) ListQuestions(ctx context.Context, hearingID uuid.UUID) ([]Question, error) {
	var out []Question
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out,
		"SELECT * FROM hearing_questions WHERE hearing_id = $1 ORDER BY order_index", hearingID)
	return out, err
}

func (r *postgresRepository) ListOverdueQuestions(ctx context.Context, now time.Time) ([]Question, error) {
	var out []Question
	err := sqlx.SelectContext(ctx, r.conn(ctx), &out, `
		SELECT q.* FROM hearing_questions q
		JOIN hearings h ON h.id = q.hearing_id
		WHERE q.status = $1 AND q.deadline < $2 AND h.status = $3
		ORDER BY q.deadline`, QuestionPending, now, StatusInProgress)
	return out, err
}

// orderingConflict maps a unique violation on (hearing_id, order_index) to a retryable error
func orderingConflict(err error, constraint string, hearingID uuid.UUID, index *int) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint {
		conflict := &disputes.OrderingConflictError{HearingID: hearingID}
		if index != nil {
			conflict.OrderIndex = *index
		}
		return conflict
	}
	return err
}
