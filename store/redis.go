package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

// responseTypes enumerates every persisted response type, for lookups that
// span all of them.
var responseTypes = []string{
	ResponseBatch, ResponseMapping, ResponseSynthesis, ResponseRefiner,
	ResponseAntagonist, ResponseUnderstand, ResponseGauntlet,
}

// RedisStore is a TurnStore on redis hashes. Responses live in one hash per
// (session, turn, responseType) keyed by provider and index, which makes the
// upsert naturally idempotent.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisStore wires a RedisStore over an existing client. ttl of zero
// means keys never expire.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "conclave"
	}
	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "redis_store")),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) respKey(sessionID, turnID, responseType string) string {
	return fmt.Sprintf("%s:resp:%s:%s:%s", s.prefix, sessionID, turnID, responseType)
}

func (s *RedisStore) ctxKey(sessionID string) string {
	return fmt.Sprintf("%s:ctx:%s", s.prefix, sessionID)
}

func (s *RedisStore) resultKey(aiTurnID string) string {
	return fmt.Sprintf("%s:result:%s", s.prefix, aiTurnID)
}

func respField(providerID string, index int) string {
	return fmt.Sprintf("%s:%d", providerID, index)
}

func (s *RedisStore) UpsertProviderResponse(ctx context.Context, r StoredResponse) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	key := s.respKey(r.SessionID, r.TurnID, r.ResponseType)
	if err := s.client.HSet(ctx, key, respField(r.ProviderID, r.Index), data).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

func (s *RedisStore) GetProviderResponses(ctx context.Context, sessionID, turnID, providerID string) ([]StoredResponse, error) {
	var out []StoredResponse
	for _, rt := range responseTypes {
		fields, err := s.client.HGetAll(ctx, s.respKey(sessionID, turnID, rt)).Result()
		if err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		for field, raw := range fields {
			if !strings.HasPrefix(field, providerID+":") {
				continue
			}
			var r StoredResponse
			if err := json.Unmarshal([]byte(raw), &r); err != nil {
				s.logger.Warn("skipping undecodable response", zap.String("field", field), zap.Error(err))
				continue
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *RedisStore) GetTurnResponses(ctx context.Context, sessionID, turnID, responseType string) ([]StoredResponse, error) {
	fields, err := s.client.HGetAll(ctx, s.respKey(sessionID, turnID, responseType)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make([]StoredResponse, 0, len(fields))
	for field, raw := range fields {
		var r StoredResponse
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.logger.Warn("skipping undecodable response", zap.String("field", field), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) PersistWorkflowResult(ctx context.Context, _ *types.WorkflowRequest, resolved *types.ResolvedContext, result *WorkflowResult) (types.TurnRefs, error) {
	refs := types.TurnRefs{
		SessionID:  resolved.SessionID,
		UserTurnID: uuid.NewString(),
		AITurnID:   uuid.NewString(),
	}
	if refs.SessionID == "" {
		refs.SessionID = uuid.NewString()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return types.TurnRefs{}, fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, s.resultKey(refs.AITurnID), data, s.ttl).Err(); err != nil {
		return types.TurnRefs{}, fmt.Errorf("set result: %w", err)
	}

	for _, out := range result.Steps {
		for id, pr := range out.Results {
			r := StoredResponse{
				SessionID:    refs.SessionID,
				TurnID:       refs.AITurnID,
				ProviderID:   id,
				ResponseType: string(out.Type),
				Text:         pr.Text,
				Meta:         pr.Meta,
				SoftError:    pr.SoftError,
			}
			if err := s.UpsertProviderResponse(ctx, r); err != nil {
				return types.TurnRefs{}, err
			}
		}
	}
	return refs, nil
}

func (s *RedisStore) SaveProviderContext(ctx context.Context, sessionID string, pc types.ProviderContext) error {
	data, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	if err := s.client.HSet(ctx, s.ctxKey(sessionID), pc.ProviderID, data).Err(); err != nil {
		return fmt.Errorf("hset context: %w", err)
	}
	return nil
}

func (s *RedisStore) GetProviderContext(ctx context.Context, sessionID, providerID string) (types.ProviderContext, bool, error) {
	raw, err := s.client.HGet(ctx, s.ctxKey(sessionID), providerID).Result()
	if err == redis.Nil {
		return types.ProviderContext{}, false, nil
	}
	if err != nil {
		return types.ProviderContext{}, false, fmt.Errorf("hget context: %w", err)
	}
	var pc types.ProviderContext
	if err := json.Unmarshal([]byte(raw), &pc); err != nil {
		return types.ProviderContext{}, false, fmt.Errorf("unmarshal context: %w", err)
	}
	return pc, true, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
