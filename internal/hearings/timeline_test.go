package hearings

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerEntry(index int, status StatementStatus) Statement {
	i := index
	return Statement{ID: uuid.New(), Type: StatementEvidence, Status: status, OrderIndex: &i}
}

func TestBuildTimelineThreads(t *testing.T) {
	hearingID := uuid.New()
	root := ledgerEntry(0, StatementSubmitted)
	reply := ledgerEntry(1, StatementSubmitted)
	reply.ReplyToStatementID = &root.ID
	nested := ledgerEntry(2, StatementSubmitted)
	nested.ReplyToStatementID = &reply.ID
	draft := Statement{ID: uuid.New(), Status: StatementDraft}
	orphan := ledgerEntry(3, StatementSubmitted)
	missing := uuid.New()
	orphan.ReplyToStatementID = &missing

	tl := BuildTimeline(hearingID, []Statement{root, reply, nested, draft, orphan})

	require.Len(t, tl.Nodes, 4)
	assert.Equal(t, []int{0, 3}, tl.Roots)
	assert.Equal(t, []int{1}, tl.Nodes[0].Replies)
	require.NotNil(t, tl.Nodes[2].Parent)
	assert.Equal(t, 1, *tl.Nodes[2].Parent)

	_, ok := tl.Node(draft.ID)
	assert.False(t, ok)

	thread := tl.Thread(nested.ID)
	require.Len(t, thread, 3)
	assert.Equal(t, root.ID, thread[0].ID)
	assert.Equal(t, nested.ID, thread[2].ID)
	assert.Nil(t, tl.Thread(uuid.New()))
}

func TestBuildTimelineRetractions(t *testing.T) {
	original := ledgerEntry(0, StatementSubmitted)
	retraction := ledgerEntry(1, StatementSubmitted)
	retraction.RetractionOfStatementID = &original.ID
	original.SupersededByID = &retraction.ID

	tl := BuildTimeline(uuid.New(), []Statement{original, retraction})

	assert.Equal(t, []int{0}, tl.Roots)
	node, ok := tl.Node(original.ID)
	require.True(t, ok)
	require.NotNil(t, node.RetractedBy)
	assert.Equal(t, 1, *node.RetractedBy)

	current, ok := tl.Current(original.ID)
	require.True(t, ok)
	assert.Equal(t, retraction.ID, current.ID)

	current, ok = tl.Current(retraction.ID)
	require.True(t, ok)
	assert.Equal(t, retraction.ID, current.ID)

	_, ok = tl.Current(uuid.New())
	assert.False(t, ok)
}
