package hearings

import (
	"context"

	"github.com/google/uuid"

	"freelance-market/dispute-court/dispute-court-backend/internal/auth"
)

// TimelineNode is one statement in the arena. Links are arena positions, not pointers.
type TimelineNode struct {
	Statement   Statement `json:"statement"`
	Parent      *int      `json:"parent,omitempty"`
	Replies     []int     `json:"replies"`
	RetractedBy *int      `json:"retracted_by,omitempty"`
}

// Timeline threads the published ledger through its reply and retraction links
type Timeline struct {
	HearingID uuid.UUID      `json:"hearing_id"`
	Nodes     []TimelineNode `json:"nodes"`
	Roots     []int          `json:"roots"`

	index map[uuid.UUID]int
}

// BuildTimeline materialises threads from statements in ledger order. Drafts are skipped;
// links to statements outside the set are treated as roots.
func BuildTimeline(hearingID uuid.UUID, statements []Statement) *Timeline {
	t := &Timeline{
		HearingID: hearingID,
		Nodes:     make([]TimelineNode, 0, len(statements)),
		Roots:     []int{},
		index:     make(map[uuid.UUID]int, len(statements)),
	}
	for _, st := range statements {
		if st.Status != StatementSubmitted {
			continue
		}
		t.index[st.ID] = len(t.Nodes)
		t.Nodes = append(t.Nodes, TimelineNode{Statement: st, Replies: []int{}})
	}

	for i := range t.Nodes {
		st := &t.Nodes[i].Statement
		if st.RetractionOfStatementID != nil {
			if orig, ok := t.index[*st.RetractionOfStatementID]; ok {
				pos := i
				t.Nodes[orig].RetractedBy = &pos
				continue
			}
		}
		if st.ReplyToStatementID != nil {
			if parent, ok := t.index[*st.ReplyToStatementID]; ok {
				p := parent
				t.Nodes[i].Parent = &p
				t.Nodes[parent].Replies = append(t.Nodes[parent].Replies, i)
				continue
			}
		}
		t.Roots = append(t.Roots, i)
	}
	return t
}

// Node returns the node for a statement id
func (t *Timeline) Node(id uuid.UUID) (*TimelineNode, bool) {
	i, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.Nodes[i], true
}

// Thread returns the reply chain from its root down to id
func (t *Timeline) Thread(id uuid.UUID) []Statement {
	i, ok := t.index[id]
	if !ok {
		return nil
	}
	var chain []Statement
	for seen := 0; seen <= len(t.Nodes); seen++ {
		chain = append(chain, t.Nodes[i].Statement)
		if t.Nodes[i].Parent == nil {
			break
		}
		i = *t.Nodes[i].Parent
	}
	for l, r := 0, len(chain)-1; l < r; l, r = l+1, r-1 {
		chain[l], chain[r] = chain[r], chain[l]
	}
	return chain
}

// Current follows retractions from id to the statement that now stands in its place
func (t *Timeline) Current(id uuid.UUID) (Statement, bool) {
	i, ok := t.index[id]
	if !ok {
		return Statement{}, false
	}
	for t.Nodes[i].RetractedBy != nil {
		i = *t.Nodes[i].RetractedBy
	}
	return t.Nodes[i].Statement, true
}

// Timeline returns the threaded ledger as the actor may see it
func (s *Service) Timeline(ctx context.Context, actor auth.Actor, hearingID uuid.UUID) (*Timeline, error) {
	statements, err := s.ListStatements(ctx, actor, hearingID)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(hearingID, statements), nil
}
