package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, log *Log) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockStore) ListForEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]Log, error) {
	args := m.Called(ctx, entityType, entityID)
	return args.Get(0).([]Log), args.Error(1)
}

func TestAsyncRecorderWritesSnapshots(t *testing.T) {
	store := new(MockStore)
	entityID := uuid.New()

	var saved *Log
	store.On("Save", mock.Anything, mock.AnythingOfType("*audit.Log")).
		Run(func(args mock.Arguments) { saved = args.Get(1).(*Log) }).
		Return(nil).Once()

	r := NewAsyncRecorder(store, 8, zap.NewNop())
	r.Start()
	r.Record(context.Background(), Entry{
		ActorID:    uuid.New(),
		Action:     "dispute.reject",
		EntityType: "dispute",
		EntityID:   entityID,
		Before:     map[string]string{"status": "IN_REVIEW"},
		After:      map[string]string{"status": "REJECTED"},
	})
	r.Stop()

	store.AssertExpectations(t)
	require.NotNil(t, saved)
	assert.Equal(t, entityID, saved.EntityID)

	var after map[string]string
	require.NoError(t, json.Unmarshal(saved.After, &after))
	assert.Equal(t, "REJECTED", after["status"])
}

func TestAsyncRecorderSwallowsStoreErrors(t *testing.T) {
	store := new(MockStore)
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	r := NewAsyncRecorder(store, 8, zap.NewNop())
	r.Start()
	r.Record(context.Background(), Entry{Action: "hearing.start", EntityID: uuid.New()})
	r.Stop()

	store.AssertNumberOfCalls(t, "Save", 1)
}

func TestAsyncRecorderDropsWhenFull(t *testing.T) {
	r := NewAsyncRecorder(new(MockStore), 1, zap.NewNop())
	r.Record(context.Background(), Entry{Action: "a"})
	r.Record(context.Background(), Entry{Action: "b"})
	assert.Len(t, r.queue, 1)
}
