package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/paybridge/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInstanceLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateInstance(ctx, &domain.InstanceRecord{
		InstanceID:     "inst-1",
		ConversationID: "abc",
		Environment:    "mypurecloud.com",
		State:          domain.StateUninitialized,
	}))

	got, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ConversationID)
	assert.Equal(t, "mypurecloud.com", got.Environment)
	assert.Empty(t, got.UserID)
	assert.Equal(t, domain.StateUninitialized, got.State)

	require.NoError(t, store.UpdateInstanceState(ctx, "inst-1", domain.StateReady))
	require.NoError(t, store.SetInstanceUser(ctx, "inst-1", "U1"))

	got, err = store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, got.State)
	assert.Equal(t, "U1", got.UserID)
}

func TestUnknownInstance(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	assert.ErrorIs(t, store.UpdateInstanceState(ctx, "missing", domain.StateReady), domain.ErrInstanceNotFound)
}

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateInstance(ctx, &domain.InstanceRecord{
		InstanceID:  "inst-1",
		Environment: "mypurecloud.com",
		State:       domain.StateUninitialized,
	}))

	require.NoError(t, store.AppendEvent(ctx, "inst-1", domain.EventTypeInstanceCreated, nil))
	require.NoError(t, store.AppendEvent(ctx, "inst-1", domain.EventTypeStageSucceeded, map[string]string{"stage": "authenticate"}))
	require.NoError(t, store.AppendEvent(ctx, "inst-1", domain.EventTypeStateChanged, map[string]string{"to": "READY"}))

	events, err := store.GetEvents(ctx, "inst-1", 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventTypeInstanceCreated, events[0].Type)
	assert.Nil(t, events[0].Payload)
	assert.Equal(t, domain.EventTypeStageSucceeded, events[1].Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
	assert.Equal(t, "authenticate", payload["stage"])

	filtered, err := store.GetEvents(ctx, "inst-1", 0, []string{string(domain.EventTypeStateChanged)}, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, domain.EventTypeStateChanged, filtered[0].Type)

	limited, err := store.GetEvents(ctx, "inst-1", 0, nil, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAppendEventRequiresInstance(t *testing.T) {
	store := newTestStore(t)
	err := store.AppendEvent(context.Background(), "missing", domain.EventTypeHandoff, nil)
	assert.Error(t, err)
}
