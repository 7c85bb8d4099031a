package saga_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/medbridge/transponder/saga"
	"github.com/medbridge/transponder/storage/memory"
)

func TestStoreRepositoryRoundTrip(t *testing.T) {
	store := memory.New()
	repo := saga.NewStoreRepository(store, "alarm", newAlarmState)
	ctx := context.Background()

	id, conversationID := uuid.New(), uuid.New()

	_, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, found)

	state := newAlarmState()
	state.SetCorrelationID(id)
	state.SetConversationID(conversationID)
	state.LastSeverity = "high"

	saved, err := repo.Save(ctx, state)
	require.NoError(t, err)
	require.True(t, saved)
	require.Equal(t, int64(1), state.GetVersion())

	loaded, found, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "high", loaded.LastSeverity)
	require.Equal(t, conversationID, loaded.GetConversationID())
	require.Equal(t, int64(1), loaded.GetVersion())

	require.NoError(t, repo.Delete(ctx, id))
	_, found, err = repo.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStoreRepositoryDetectsConflicts(t *testing.T) {
	store := memory.New()
	repo := saga.NewStoreRepository(store, "alarm", newAlarmState)
	ctx := context.Background()

	id := uuid.New()
	state := newAlarmState()
	state.SetCorrelationID(id)
	saved, err := repo.Save(ctx, state)
	require.NoError(t, err)
	require.True(t, saved)

	duplicate := newAlarmState()
	duplicate.SetCorrelationID(id)
	saved, err = repo.Save(ctx, duplicate)
	require.NoError(t, err)
	require.False(t, saved, "inserting an existing state conflicts")

	first, _, err := repo.Get(ctx, id)
	require.NoError(t, err)
	second, _, err := repo.Get(ctx, id)
	require.NoError(t, err)

	first.Raised = 1
	saved, err = repo.Save(ctx, first)
	require.NoError(t, err)
	require.True(t, saved)

	second.Raised = 2
	saved, err = repo.Save(ctx, second)
	require.NoError(t, err)
	require.False(t, saved, "stale version conflicts")
	require.Equal(t, int64(1), second.GetVersion())

	current, _, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, current.Raised)
	require.Equal(t, int64(2), current.GetVersion())
}
