package hearings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/disputes"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
	"freelance-market/dispute-court/dispute-court-backend/internal/notifications"
)

const orderingAttempts = 3

type StatementRequest struct {
	Type               StatementType `json:"type" binding:"required"`
	Title              string        `json:"title"`
	Content            string        `json:"content"`
	Attachments        []string      `json:"attachments"`
	ReplyToStatementID *uuid.UUID    `json:"reply_to_statement_id"`
	Draft              bool          `json:"draft"`
}

type QuestionRequest struct {
	TargetUserID uuid.UUID  `json:"target_user_id" binding:"required"`
	Question     string     `json:"question" binding:"required"`
	Deadline     *time.Time `json:"deadline"`
	IsRequired   bool       `json:"is_required"`
}

// SubmitStatement appends a statement to the ledger, or saves it as a draft
func (s *Service) SubmitStatement(ctx context.Context, actor auth.Actor, hearingID uuid.UUID, req StatementRequest) (*Statement, error) {
	if !ValidStatementType(req.Type) {
		return nil, &disputes.ValidationError{Field: "type", Message: "unknown statement type " + string(req.Type)}
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && !req.Draft {
		return nil, &disputes.ValidationError{Field: "content", Message: "is required"}
	}

	var out Statement
	err := withOrderingRetry(func() error {
		return s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
			p, err := s.participant(ctx, h, actor.ID)
			if err != nil {
				return err
			}
			if p.Role == RoleObserver {
				return &disputes.NotParticipantError{HearingID: h.ID, UserID: actor.ID, Rule: "observers may not submit statements"}
			}
			now := s.now().UTC()
			st := &Statement{
				ID:                 uuid.New(),
				HearingID:          h.ID,
				ParticipantID:      p.ID,
				AuthorID:           actor.ID,
				Type:               req.Type,
				Title:              strings.TrimSpace(req.Title),
				Content:            content,
				Status:             StatementDraft,
				Attachments:        req.Attachments,
				ReplyToStatementID: req.ReplyToStatementID,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if st.Attachments == nil {
				st.Attachments = []string{}
			}

			if req.Draft {
				if !h.Status.Active() {
					return invalidHearing(h, "save draft", "hearing is "+string(h.Status))
				}
				if err := s.repo.CreateStatement(ctx, st); err != nil {
					return fmt.Errorf("failed to save draft: %w", err)
				}
				out = *st
				return nil
			}

			if err := s.checkPublish(ctx, h, p, st, now); err != nil {
				return err
			}
			if err := s.stampOrder(ctx, h, st, now); err != nil {
				return err
			}
			if err := s.repo.CreateStatement(ctx, st); err != nil {
				return err
			}
			if err := s.markSubmitted(ctx, p); err != nil {
				return err
			}
			out = *st
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if out.Status == StatementSubmitted {
		s.afterPublish(ctx, actor, &out)
	}
	return &out, nil
}

// UpdateDraft edits a draft. Only its author may, and only until it is published.
func (s *Service) UpdateDraft(ctx context.Context, actor auth.Actor, hearingID, statementID uuid.UUID, req StatementRequest) (*Statement, error) {
	var out Statement
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		st, err := s.ownDraft(ctx, h, actor, statementID, "edit draft")
		if err != nil {
			return err
		}
		if req.Type != "" {
			if !ValidStatementType(req.Type) {
				return &disputes.ValidationError{Field: "type", Message: "unknown statement type " + string(req.Type)}
			}
			st.Type = req.Type
		}
		st.Title = strings.TrimSpace(req.Title)
		st.Content = strings.TrimSpace(req.Content)
		if req.Attachments != nil {
			st.Attachments = req.Attachments
		}
		st.ReplyToStatementID = req.ReplyToStatementID
		st.UpdatedAt = s.now().UTC()
		if err := s.repo.UpdateStatement(ctx, st); err != nil {
			return fmt.Errorf("failed to update draft: %w", err)
		}
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishDraft submits a draft, giving it the next ledger position
func (s *Service) PublishDraft(ctx context.Context, actor auth.Actor, hearingID, statementID uuid.UUID) (*Statement, error) {
	var out Statement
	err := withOrderingRetry(func() error {
		return s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
			st, err := s.ownDraft(ctx, h, actor, statementID, "publish draft")
			if err != nil {
				return err
			}
			if strings.TrimSpace(st.Content) == "" {
				return &disputes.ValidationError{Field: "content", Message: "is required"}
			}
			p, err := s.participant(ctx, h, actor.ID)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			if err := s.checkPublish(ctx, h, p, st, now); err != nil {
				return err
			}
			if err := s.stampOrder(ctx, h, st, now); err != nil {
				return err
			}
			if err := s.repo.UpdateStatement(ctx, st); err != nil {
				return err
			}
			if err := s.markSubmitted(ctx, p); err != nil {
				return err
			}
			out = *st
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.afterPublish(ctx, actor, &out)
	return &out, nil
}

// Retract appends a correction superseding one of the author's statements. The original stays on record.
func (s *Service) Retract(ctx context.Context, actor auth.Actor, hearingID, statementID uuid.UUID, reason string) (*Statement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Statement retracted"
	}
	var out Statement
	err := withOrderingRetry(func() error {
		return s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
			original, err := s.statement(ctx, h, statementID)
			if err != nil {
				return err
			}
			if original.AuthorID != actor.ID {
				return &disputes.NotParticipantError{HearingID: h.ID, UserID: actor.ID, Rule: "only the author may retract a statement"}
			}
			if h.Status != StatusInProgress {
				return invalidHearing(h, "retract statement", "statements can only be retracted while the hearing is in progress")
			}
			if original.Status != StatementSubmitted {
				return invalidStatement(original, "retract", "only submitted statements can be retracted")
			}
			if original.SupersededByID != nil {
				return invalidStatement(original, "retract", "statement is already superseded")
			}
			if original.RetractionOfStatementID != nil {
				return invalidStatement(original, "retract", "a retraction cannot be retracted")
			}

			now := s.now().UTC()
			originalID := original.ID
			retraction := &Statement{
				ID:                      uuid.New(),
				HearingID:               h.ID,
				ParticipantID:           original.ParticipantID,
				AuthorID:                actor.ID,
				Type:                    original.Type,
				Title:                   "Retraction",
				Content:                 reason,
				Status:                  StatementDraft,
				Attachments:             []string{},
				RetractionOfStatementID: &originalID,
				CreatedAt:               now,
				UpdatedAt:               now,
			}
			if err := s.stampOrder(ctx, h, retraction, now); err != nil {
				return err
			}
			if err := s.repo.CreateStatement(ctx, retraction); err != nil {
				return err
			}
			original.SupersededByID = &retraction.ID
			original.UpdatedAt = now
			if err := s.repo.UpdateStatement(ctx, original); err != nil {
				return fmt.Errorf("failed to supersede statement: %w", err)
			}
			out = *retraction
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.afterPublish(ctx, actor, &out)
	return &out, nil
}

// Redact hides a statement's content from everyone but the moderator. Redacting twice is a no-op.
func (s *Service) Redact(ctx context.Context, actor auth.Actor, hearingID, statementID uuid.UUID, reason string) (*Statement, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &disputes.ValidationError{Field: "reason", Message: "is required"}
	}
	var (
		out     Statement
		changed bool
	)
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		if err := requireModerator(h, actor, "redact statement"); err != nil {
			return err
		}
		st, err := s.statement(ctx, h, statementID)
		if err != nil {
			return err
		}
		if st.IsRedacted {
			out = *st
			return nil
		}
		if st.Status != StatementSubmitted {
			return invalidStatement(st, "redact", "only submitted statements can be redacted")
		}
		now := s.now().UTC()
		moderatorID := actor.ID
		st.IsRedacted = true
		st.RedactedReason = &reason
		st.RedactedByID = &moderatorID
		st.RedactedAt = &now
		st.UpdatedAt = now
		if err := s.repo.UpdateStatement(ctx, st); err != nil {
			return fmt.Errorf("failed to redact statement: %w", err)
		}
		out = *st
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return &out, nil
	}

	h, err := s.repo.GetHearing(ctx, hearingID)
	if err == nil {
		s.publisher.Publish(ctx, events.New(events.MessageHidden, h.DisputeID, &h.ID, out.ID, map[string]interface{}{
			"kind":        "statement",
			"reason":      reason,
			"order_index": out.OrderIndex,
		}))
	}
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.redact_statement", EntityType: "hearing_statement", EntityID: out.ID, After: map[string]interface{}{"redacted_reason": reason}})
	s.logger.Info("Statement redacted", zap.String("hearing_id", hearingID.String()), zap.String("statement_id", out.ID.String()))
	return &out, nil
}

// ListStatements returns the ledger as the actor may see it
func (s *Service) ListStatements(ctx context.Context, actor auth.Actor, hearingID uuid.UUID) ([]Statement, error) {
	h, err := s.repo.GetHearing(ctx, hearingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, h, actor); err != nil {
		return nil, err
	}
	statements, err := s.repo.ListStatements(ctx, hearingID)
	if err != nil {
		return nil, err
	}
	return visibleStatements(statements, h, actor), nil
}

// AskQuestion records a question to one participant during INTERROGATION. A moderator
// question hands the floor to the targeted party.
func (s *Service) AskQuestion(ctx context.Context, actor auth.Actor, hearingID uuid.UUID, req QuestionRequest) (*Question, error) {
	text := strings.TrimSpace(req.Question)
	if text == "" {
		return nil, &disputes.ValidationError{Field: "question", Message: "is required"}
	}

	var (
		out      Question
		speaker  *Hearing
		previous SpeakerRole
	)
	err := withOrderingRetry(func() error {
		speaker = nil
		return s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
			if h.Status != StatusInProgress {
				return invalidHearing(h, "ask question", "hearing is not in progress")
			}
			d, err := s.disputes.Get(ctx, h.DisputeID)
			if err != nil {
				return err
			}
			if err := CheckStatementPhase(StatementQuestion, d.Phase); err != nil {
				return err
			}
			asker, err := s.participant(ctx, h, actor.ID)
			if err != nil {
				return err
			}
			now := s.now().UTC()
			if asker.Role == RoleObserver {
				return &disputes.NotParticipantError{HearingID: h.ID, UserID: actor.ID, Rule: "observers may not ask questions"}
			}
			if err := s.checkSpeaker(h, asker, now); err != nil {
				return err
			}

			target, err := s.repo.GetParticipant(ctx, h.ID, req.TargetUserID)
			if errors.Is(err, ErrParticipantNotFound) {
				return &disputes.ValidationError{Field: "target_user_id", Message: "target is not a participant of this hearing"}
			}
			if err != nil {
				return err
			}
			if target.Role == RoleModerator || target.UserID == actor.ID {
				return &disputes.ValidationError{Field: "target_user_id", Message: "questions cannot target the moderator or the asker"}
			}

			deadline := now.Add(time.Duration(s.cfg.DefaultQuestionDeadlineMinutes) * time.Minute)
			if req.Deadline != nil {
				deadline = req.Deadline.UTC()
			}
			if !deadline.After(now) {
				return &disputes.ValidationError{Field: "deadline", Message: "must be in the future"}
			}

			idx, err := s.repo.NextQuestionIndex(ctx, h.ID)
			if err != nil {
				return fmt.Errorf("failed to read question order: %w", err)
			}
			q := &Question{
				ID:           uuid.New(),
				HearingID:    h.ID,
				AskedByID:    actor.ID,
				TargetUserID: target.UserID,
				Question:     text,
				Status:       QuestionPending,
				Deadline:     deadline,
				IsRequired:   req.IsRequired,
				OrderIndex:   idx,
				CreatedAt:    now,
			}
			if err := s.repo.CreateQuestion(ctx, q); err != nil {
				return err
			}

			if asker.Role == RoleModerator {
				var floor SpeakerRole
				switch target.Role {
				case RoleRaiser:
					floor = SpeakerRaiserOnly
				case RoleDefendant:
					floor = SpeakerDefendantOnly
				}
				if floor != "" && floor != h.CurrentSpeakerRole {
					previous = h.CurrentSpeakerRole
					s.switchSpeaker(h, floor, now)
					h.UpdatedAt = now
					if err := s.repo.UpdateHearing(ctx, h); err != nil {
						return err
					}
					snapshot := *h
					speaker = &snapshot
				}
			}
			out = *q
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	h, err := s.repo.GetHearing(ctx, hearingID)
	if err == nil {
		s.publisher.Publish(ctx, events.New(events.MessageSent, h.DisputeID, &h.ID, out.ID, map[string]interface{}{
			"kind":           "question",
			"asked_by_id":    out.AskedByID,
			"target_user_id": out.TargetUserID,
			"deadline":       out.Deadline,
			"is_required":    out.IsRequired,
			"order_index":    out.OrderIndex,
		}))
	}
	if speaker != nil {
		s.publishSpeaker(ctx, speaker, previous, "question_asked")
	}
	s.notifier.Send(ctx, notifications.Notification{
		UserID: out.TargetUserID, Title: "You were asked a question", Body: out.Question,
		RelatedType: "HEARING", RelatedID: hearingID,
	})
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.ask_question", EntityType: "hearing_question", EntityID: out.ID, After: out})
	return &out, nil
}

// AnswerQuestion answers a pending question addressed to the actor, before its deadline
func (s *Service) AnswerQuestion(ctx context.Context, actor auth.Actor, hearingID, questionID uuid.UUID, answer string) (*Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, &disputes.ValidationError{Field: "answer", Message: "is required"}
	}
	var out Question
	var disputeID uuid.UUID
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		q, err := s.question(ctx, h, questionID)
		if err != nil {
			return err
		}
		if q.TargetUserID != actor.ID {
			return &disputes.NotParticipantError{HearingID: h.ID, UserID: actor.ID, Rule: "only the questioned participant may answer"}
		}
		if h.Status != StatusInProgress {
			return invalidHearing(h, "answer question", "hearing is not in progress")
		}
		if q.Status != QuestionPending {
			return invalidQuestion(q, "answer", "question is no longer pending")
		}
		now := s.now().UTC()
		if q.Overdue(now) {
			return invalidQuestion(q, "answer", "answer deadline passed at "+q.Deadline.Format(time.RFC3339))
		}
		q.Answer = &answer
		q.Status = QuestionAnswered
		q.AnsweredAt = &now
		if err := s.repo.UpdateQuestion(ctx, q); err != nil {
			return fmt.Errorf("failed to answer question: %w", err)
		}
		disputeID = h.DisputeID
		out = *q
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, events.New(events.MessageSent, disputeID, &hearingID, out.ID, map[string]interface{}{
		"kind":        "answer",
		"answered_by": actor.ID,
		"order_index": out.OrderIndex,
	}))
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.answer_question", EntityType: "hearing_question", EntityID: out.ID, After: out})
	return &out, nil
}

// ExtendQuestionDeadline lets the moderator reopen the answer window of a pending question
func (s *Service) ExtendQuestionDeadline(ctx context.Context, actor auth.Actor, hearingID, questionID uuid.UUID, deadline time.Time) (*Question, error) {
	var out Question
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		if err := requireModerator(h, actor, "extend question deadline"); err != nil {
			return err
		}
		q, err := s.question(ctx, h, questionID)
		if err != nil {
			return err
		}
		if q.Status != QuestionPending {
			return invalidQuestion(q, "extend deadline", "question is no longer pending")
		}
		if !deadline.After(s.now()) {
			return &disputes.ValidationError{Field: "deadline", Message: "must be in the future"}
		}
		q.Deadline = deadline.UTC()
		if err := s.repo.UpdateQuestion(ctx, q); err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}
		out = *q
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.extend_question_deadline", EntityType: "hearing_question", EntityID: out.ID, After: out})
	return &out, nil
}

// CancelQuestion withdraws a pending question. Moderator only.
func (s *Service) CancelQuestion(ctx context.Context, actor auth.Actor, hearingID, questionID uuid.UUID) (*Question, error) {
	var out Question
	err := s.repo.WithHearingLock(ctx, hearingID, func(ctx context.Context, h *Hearing) error {
		if err := requireModerator(h, actor, "cancel question"); err != nil {
			return err
		}
		q, err := s.question(ctx, h, questionID)
		if err != nil {
			return err
		}
		if q.Status != QuestionPending {
			return invalidQuestion(q, "cancel", "question is no longer pending")
		}
		now := s.now().UTC()
		moderatorID := actor.ID
		q.Status = QuestionCancelled
		q.CancelledAt = &now
		q.CancelledByID = &moderatorID
		if err := s.repo.UpdateQuestion(ctx, q); err != nil {
			return fmt.Errorf("failed to cancel question: %w", err)
		}
		out = *q
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.cancel_question", EntityType: "hearing_question", EntityID: out.ID, After: out})
	return &out, nil
}

// ListQuestions returns the hearing's questions in ask order
func (s *Service) ListQuestions(ctx context.Context, actor auth.Actor, hearingID uuid.UUID) ([]Question, error) {
	h, err := s.repo.GetHearing(ctx, hearingID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, h, actor); err != nil {
		return nil, err
	}
	return s.repo.ListQuestions(ctx, hearingID)
}

// checkPublish holds the rules every published statement must pass
func (s *Service) checkPublish(ctx context.Context, h *Hearing, p *Participant, st *Statement, now time.Time) error {
	if h.Status != StatusInProgress {
		return invalidHearing(h, "submit statement", "hearing is not in progress")
	}
	d, err := s.disputes.Get(ctx, h.DisputeID)
	if err != nil {
		return err
	}
	if err := CheckStatementPhase(st.Type, d.Phase); err != nil {
		return err
	}
	if err := s.checkSpeaker(h, p, now); err != nil {
		return err
	}
	if st.ReplyToStatementID != nil {
		parent, err := s.repo.GetStatement(ctx, *st.ReplyToStatementID)
		if errors.Is(err, ErrStatementNotFound) || (err == nil && (parent.HearingID != h.ID || parent.Status != StatementSubmitted)) {
			return &disputes.ValidationError{Field: "reply_to_statement_id", Message: "must reference a submitted statement of this hearing"}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// stampOrder gives st the next ledger position. Callers hold the hearing lock.
func (s *Service) stampOrder(ctx context.Context, h *Hearing, st *Statement, now time.Time) error {
	idx, err := s.repo.NextStatementIndex(ctx, h.ID)
	if err != nil {
		return fmt.Errorf("failed to read statement order: %w", err)
	}
	st.OrderIndex = &idx
	st.Status = StatementSubmitted
	st.SubmittedAt = &now
	st.UpdatedAt = now
	return nil
}

func (s *Service) markSubmitted(ctx context.Context, p *Participant) error {
	if p.HasSubmittedStatement {
		return nil
	}
	p.HasSubmittedStatement = true
	if err := s.repo.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	return nil
}

func (s *Service) afterPublish(ctx context.Context, actor auth.Actor, st *Statement) {
	h, err := s.repo.GetHearing(ctx, st.HearingID)
	if err != nil {
		s.logger.Warn("Failed to load hearing for statement event", zap.String("statement_id", st.ID.String()), zap.Error(err))
		return
	}
	data := map[string]interface{}{
		"kind":           "statement",
		"type":           st.Type,
		"author_id":      st.AuthorID,
		"participant_id": st.ParticipantID,
		"order_index":    st.OrderIndex,
	}
	if st.ReplyToStatementID != nil {
		data["reply_to_statement_id"] = *st.ReplyToStatementID
	}
	if st.RetractionOfStatementID != nil {
		data["retraction_of_statement_id"] = *st.RetractionOfStatementID
	}
	s.publisher.Publish(ctx, events.New(events.MessageSent, h.DisputeID, &h.ID, st.ID, data))
	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "hearing.submit_statement", EntityType: "hearing_statement", EntityID: st.ID, After: st})
	s.logger.Debug("Statement published",
		zap.String("hearing_id", st.HearingID.String()),
		zap.String("statement_id", st.ID.String()),
		zap.Int("order_index", *st.OrderIndex),
	)
}

func (s *Service) ownDraft(ctx context.Context, h *Hearing, actor auth.Actor, statementID uuid.UUID, action string) (*Statement, error) {
	st, err := s.statement(ctx, h, statementID)
	if err != nil {
		return nil, err
	}
	if st.AuthorID != actor.ID {
		return nil, &disputes.NotParticipantError{HearingID: h.ID, UserID: actor.ID, Rule: "only the author may " + action}
	}
	if st.Status != StatementDraft {
		return nil, invalidStatement(st, action, "statement is already submitted")
	}
	return st, nil
}

func (s *Service) statement(ctx context.Context, h *Hearing, id uuid.UUID) (*Statement, error) {
	st, err := s.repo.GetStatement(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.HearingID != h.ID {
		return nil, ErrStatementNotFound
	}
	return st, nil
}

func (s *Service) question(ctx context.Context, h *Hearing, id uuid.UUID) (*Question, error) {
	q, err := s.repo.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.HearingID != h.ID {
		return nil, ErrQuestionNotFound
	}
	return q, nil
}

// withOrderingRetry reruns fn when another writer took the same ledger position
func withOrderingRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < orderingAttempts; attempt++ {
		err = fn()
		var conflict *disputes.OrderingConflictError
		if !errors.As(err, &conflict) {
			return err
		}
	}
	return err
}
