package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

// newBackends builds every backend that can run in-process.
func newBackends(t *testing.T) map[string]TurnStore {
	t.Helper()
	backends := map[string]TurnStore{
		"memory": NewMemoryStore(),
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backends["redis"] = NewRedisStore(client, "test", 0, zap.NewNop())

	sqlStore, err := OpenSQL("sqlite", ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })
	backends["sql"] = sqlStore

	return backends
}

func TestUpsertIsIdempotent(t *testing.T) {
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := StoredResponse{
				SessionID: "s1", TurnID: "t1", ProviderID: "alpha",
				ResponseType: ResponseBatch, Index: 0, Text: "v1",
			}
			require.NoError(t, s.UpsertProviderResponse(ctx, first))

			second := first
			second.Text = "v2"
			second.Meta = json.RawMessage(`{"thread":"x"}`)
			require.NoError(t, s.UpsertProviderResponse(ctx, second))

			got, err := s.GetTurnResponses(ctx, "s1", "t1", ResponseBatch)
			require.NoError(t, err)
			require.Len(t, got, 1, "same key must replace, not duplicate")
			assert.Equal(t, "v2", got[0].Text)
			assert.JSONEq(t, `{"thread":"x"}`, string(got[0].Meta))
		})
	}
}

func TestDistinctKeysAccumulate(t *testing.T) {
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := StoredResponse{
				SessionID: "s1", TurnID: "t1", ProviderID: "alpha",
				ResponseType: ResponseBatch, Text: "x",
			}
			require.NoError(t, s.UpsertProviderResponse(ctx, base))

			other := base
			other.Index = 1
			require.NoError(t, s.UpsertProviderResponse(ctx, other))

			mapping := base
			mapping.ResponseType = ResponseMapping
			require.NoError(t, s.UpsertProviderResponse(ctx, mapping))

			batch, err := s.GetTurnResponses(ctx, "s1", "t1", ResponseBatch)
			require.NoError(t, err)
			assert.Len(t, batch, 2)

			byProvider, err := s.GetProviderResponses(ctx, "s1", "t1", "alpha")
			require.NoError(t, err)
			assert.Len(t, byProvider, 3)
		})
	}
}

func TestProviderContextRoundTrip(t *testing.T) {
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			meta := json.RawMessage(`{"thread":"abc"}`)

			_, ok, err := s.GetProviderContext(ctx, "s1", "alpha")
			require.NoError(t, err)
			assert.False(t, ok)

			pc := types.ProviderContext{ProviderID: "alpha", Meta: meta}
			require.NoError(t, s.SaveProviderContext(ctx, "s1", pc))

			got, ok, err := s.GetProviderContext(ctx, "s1", "alpha")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, string(meta), string(got.Meta))

			// Saving again overwrites.
			pc.Meta = json.RawMessage(`{"thread":"def"}`)
			require.NoError(t, s.SaveProviderContext(ctx, "s1", pc))
			got, ok, err = s.GetProviderContext(ctx, "s1", "alpha")
			require.NoError(t, err)
			require.True(t, ok)
			assert.JSONEq(t, `{"thread":"def"}`, string(got.Meta))
		})
	}
}

func TestPersistWorkflowResultStoresCanonicalTurn(t *testing.T) {
	for name, s := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			result := &WorkflowResult{
				WorkflowID: "wf-1",
				Steps: map[types.StepID]*types.StepOutput{
					"batch-1": {
						StepID: "batch-1",
						Type:   types.StepBatch,
						Results: map[string]types.ProviderResult{
							"alpha": {ProviderID: "alpha", Text: "answer a"},
							"beta":  {ProviderID: "beta", Text: "answer b"},
						},
					},
				},
			}
			resolved := &types.ResolvedContext{SessionID: "s-persist"}

			refs, err := s.PersistWorkflowResult(ctx, &types.WorkflowRequest{}, resolved, result)
			require.NoError(t, err)
			assert.Equal(t, "s-persist", refs.SessionID)
			assert.NotEmpty(t, refs.AITurnID)
			assert.NotEmpty(t, refs.UserTurnID)
			assert.NotEqual(t, refs.AITurnID, refs.UserTurnID)

			// Step outputs are queryable under the canonical turn id.
			got, err := s.GetTurnResponses(ctx, refs.SessionID, refs.AITurnID, ResponseBatch)
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestFactorySelectsBackend(t *testing.T) {
	logger := zap.NewNop()

	s, err := New(context.Background(), Config{}, logger)
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	mr := miniredis.RunT(t)
	cfg := Config{Backend: BackendRedis}
	cfg.Redis.Addr = mr.Addr()
	s, err = New(context.Background(), cfg, logger)
	require.NoError(t, err)
	_, ok = s.(*RedisStore)
	assert.True(t, ok)

	cfg = Config{Backend: BackendSQL}
	cfg.SQL.Driver = "sqlite"
	cfg.SQL.DSN = ":memory:"
	s, err = New(context.Background(), cfg, logger)
	require.NoError(t, err)
	_, ok = s.(*SQLStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = New(context.Background(), Config{Backend: "bogus"}, logger)
	require.Error(t, err)
}
