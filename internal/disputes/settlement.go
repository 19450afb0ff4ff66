package disputes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"freelance-market/dispute-court/dispute-court-backend/internal/audit"
	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
	"freelance-market/dispute-court/dispute-court-backend/internal/events"
)

type OfferSettlementRequest struct {
	DisputeID          uuid.UUID `json:"dispute_id"`
	AmountToClient     float64   `json:"amount_to_client"`
	AmountToFreelancer float64   `json:"amount_to_freelancer"`
	Terms              string    `json:"terms"`
}

// OfferSettlement proposes a split of the disputed amount to the other party
func (s *Service) OfferSettlement(ctx context.Context, actor auth.Actor, req OfferSettlementRequest) (*Settlement, error) {
	if req.AmountToClient < 0 || req.AmountToFreelancer < 0 {
		return nil, &ValidationError{Field: "amount", Message: "amounts must not be negative"}
	}

	d, err := s.repo.Get(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsParty(actor.ID) {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "offer settlement", Rule: "only a party of the dispute"}
	}
	if d.Status.Closed() {
		return nil, &InvalidStateError{Entity: "dispute", Current: string(d.Status), Attempted: "offer settlement", Rule: "dispute is closed"}
	}
	if req.AmountToClient+req.AmountToFreelancer > d.DisputedAmount {
		return nil, &ValidationError{Field: "amount", Message: "split exceeds the disputed amount"}
	}

	now := s.now().UTC()
	existing, err := s.repo.ListSettlements(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	for _, o := range existing {
		if o.ProposerID == actor.ID && o.Status == SettlementPending && now.Before(o.ExpiresAt) {
			return nil, &InvalidStateError{Entity: "settlement", Current: string(o.Status), Attempted: "offer settlement", Rule: "a pending offer from this party already exists"}
		}
	}

	offer := &Settlement{
		ID:                 uuid.New(),
		DisputeID:          d.ID,
		ProposerID:         actor.ID,
		AmountToClient:     req.AmountToClient,
		AmountToFreelancer: req.AmountToFreelancer,
		Terms:              req.Terms,
		Status:             SettlementPending,
		ExpiresAt:          now.Add(time.Duration(s.cfg.SettlementExpiryHours) * time.Hour),
		CreatedAt:          now,
	}
	if err := s.repo.CreateSettlement(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to save settlement: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "settlement.offer", EntityType: "dispute_settlement", EntityID: offer.ID, After: offer})
	s.publisher.Publish(ctx, events.New(events.SettlementOffered, d.ID, nil, offer.ID, map[string]interface{}{
		"settlement_id":        offer.ID,
		"proposer_id":          offer.ProposerID,
		"amount_to_client":     offer.AmountToClient,
		"amount_to_freelancer": offer.AmountToFreelancer,
		"expires_at":           offer.ExpiresAt,
	}))
	s.notify(ctx, counterparty(d, actor.ID), "Settlement offered", offer.Terms, d.ID)
	return offer, nil
}

// RespondSettlement accepts or rejects a pending offer. Only the other party may respond.
func (s *Service) RespondSettlement(ctx context.Context, actor auth.Actor, offerID uuid.UUID, accept bool) (*Settlement, error) {
	offer, err := s.repo.GetSettlement(ctx, offerID)
	if err != nil {
		return nil, err
	}
	d, err := s.repo.Get(ctx, offer.DisputeID)
	if err != nil {
		return nil, err
	}
	if !d.IsParty(actor.ID) || offer.ProposerID == actor.ID {
		return nil, &ForbiddenError{ActorID: actor.ID, Action: "respond to settlement", Rule: "only the other party may respond"}
	}
	if offer.Status != SettlementPending {
		return nil, &InvalidStateError{Entity: "settlement", Current: string(offer.Status), Attempted: "respond", Rule: "offer is no longer pending"}
	}

	now := s.now().UTC()
	before := *offer
	if !now.Before(offer.ExpiresAt) {
		offer.Status = SettlementExpired
		if err := s.repo.UpdateSettlement(ctx, offer); err != nil {
			s.logger.Warn("Failed to mark settlement expired", zap.String("settlement_id", offer.ID.String()), zap.Error(err))
		}
		return nil, &InvalidStateError{Entity: "settlement", Current: string(SettlementExpired), Attempted: "respond", Rule: "offer expired"}
	}

	responder := actor.ID
	offer.ResponderID = &responder
	offer.RespondedAt = &now
	offer.Status = SettlementRejected
	if accept {
		offer.Status = SettlementAccepted
	}
	if err := s.repo.UpdateSettlement(ctx, offer); err != nil {
		return nil, fmt.Errorf("failed to update settlement: %w", err)
	}

	s.audit.Record(ctx, audit.Entry{ActorID: actor.ID, Action: "settlement.respond", EntityType: "dispute_settlement", EntityID: offer.ID, Before: before, After: offer})
	s.notify(ctx, offer.ProposerID, "Settlement "+string(offer.Status), offer.Terms, d.ID)
	if accept && d.AssignedStaffID != nil {
		s.notify(ctx, *d.AssignedStaffID, "Settlement accepted", "Parties agreed on a settlement; the dispute can be resolved as SPLIT", d.ID)
	}
	return offer, nil
}

// ListSettlements returns the offers of a dispute
func (s *Service) ListSettlements(ctx context.Context, actor auth.Actor, disputeID uuid.UUID) ([]Settlement, error) {
	if _, err := s.load(ctx, actor, disputeID); err != nil {
		return nil, err
	}
	return s.repo.ListSettlements(ctx, disputeID)
}

func counterparty(d *Dispute, userID uuid.UUID) uuid.UUID {
	if d.RaisedBy == userID {
		return d.Against
	}
	return d.RaisedBy
}
