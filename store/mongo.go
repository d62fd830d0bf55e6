package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/conclave-ai/conclave/types"
)

// MongoStore is a TurnStore over three collections: provider_responses,
// provider_contexts and workflow_results. Upserts use ReplaceOne with the
// idempotency key as filter.
type MongoStore struct {
	client    *mongo.Client
	responses *mongo.Collection
	contexts  *mongo.Collection
	results   *mongo.Collection
	logger    *zap.Logger
}

// NewMongoStore connects and prepares the collections.
func NewMongoStore(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	return &MongoStore{
		client:    client,
		responses: db.Collection("provider_responses"),
		contexts:  db.Collection("provider_contexts"),
		results:   db.Collection("workflow_results"),
		logger:    logger.With(zap.String("component", "mongo_store")),
	}, nil
}

type mongoResponse struct {
	SessionID    string `bson:"session_id"`
	TurnID       string `bson:"turn_id"`
	ProviderID   string `bson:"provider_id"`
	ResponseType string `bson:"response_type"`
	Index        int    `bson:"idx"`
	Text         string `bson:"text"`
	Meta         []byte `bson:"meta,omitempty"`
	SoftError    bool   `bson:"soft_error,omitempty"`
}

func responseFilter(sessionID, turnID, providerID, responseType string, index int) bson.M {
	return bson.M{
		"session_id":    sessionID,
		"turn_id":       turnID,
		"provider_id":   providerID,
		"response_type": responseType,
		"idx":           index,
	}
}

func (s *MongoStore) UpsertProviderResponse(ctx context.Context, r StoredResponse) error {
	doc := mongoResponse{
		SessionID:    r.SessionID,
		TurnID:       r.TurnID,
		ProviderID:   r.ProviderID,
		ResponseType: r.ResponseType,
		Index:        r.Index,
		Text:         r.Text,
		Meta:         r.Meta,
		SoftError:    r.SoftError,
	}
	filter := responseFilter(r.SessionID, r.TurnID, r.ProviderID, r.ResponseType, r.Index)
	_, err := s.responses.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

func (s *MongoStore) GetProviderResponses(ctx context.Context, sessionID, turnID, providerID string) ([]StoredResponse, error) {
	return s.findResponses(ctx, bson.M{
		"session_id":  sessionID,
		"turn_id":     turnID,
		"provider_id": providerID,
	})
}

func (s *MongoStore) GetTurnResponses(ctx context.Context, sessionID, turnID, responseType string) ([]StoredResponse, error) {
	return s.findResponses(ctx, bson.M{
		"session_id":    sessionID,
		"turn_id":       turnID,
		"response_type": responseType,
	})
}

func (s *MongoStore) findResponses(ctx context.Context, filter bson.M) ([]StoredResponse, error) {
	cur, err := s.responses.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find responses: %w", err)
	}
	defer cur.Close(ctx)

	var out []StoredResponse
	for cur.Next(ctx) {
		var doc mongoResponse
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out = append(out, StoredResponse{
			SessionID:    doc.SessionID,
			TurnID:       doc.TurnID,
			ProviderID:   doc.ProviderID,
			ResponseType: doc.ResponseType,
			Index:        doc.Index,
			Text:         doc.Text,
			Meta:         doc.Meta,
			SoftError:    doc.SoftError,
		})
	}
	return out, cur.Err()
}

func (s *MongoStore) PersistWorkflowResult(ctx context.Context, _ *types.WorkflowRequest, resolved *types.ResolvedContext, result *WorkflowResult) (types.TurnRefs, error) {
	refs := types.TurnRefs{
		SessionID:  resolved.SessionID,
		UserTurnID: uuid.NewString(),
		AITurnID:   uuid.NewString(),
	}
	if refs.SessionID == "" {
		refs.SessionID = uuid.NewString()
	}

	doc := bson.M{
		"ai_turn_id":   refs.AITurnID,
		"session_id":   refs.SessionID,
		"user_turn_id": refs.UserTurnID,
		"workflow_id":  result.WorkflowID,
		"halt_reason":  string(result.HaltReason),
		"result":       result,
	}
	if _, err := s.results.InsertOne(ctx, doc); err != nil {
		return types.TurnRefs{}, fmt.Errorf("insert result: %w", err)
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

func (s *MongoStore) SaveProviderContext(ctx context.Context, sessionID string, pc types.ProviderContext) error {
	filter := bson.M{"session_id": sessionID, "provider_id": pc.ProviderID}
	doc := bson.M{
		"session_id":  sessionID,
		"provider_id": pc.ProviderID,
		"meta":        []byte(pc.Meta),
	}
	_, err := s.contexts.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (s *MongoStore) GetProviderContext(ctx context.Context, sessionID, providerID string) (types.ProviderContext, bool, error) {
	var doc struct {
		ProviderID string `bson:"provider_id"`
		Meta       []byte `bson:"meta"`
	}
	err := s.contexts.FindOne(ctx, bson.M{"session_id": sessionID, "provider_id": providerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.ProviderContext{}, false, nil
	}
	if err != nil {
		return types.ProviderContext{}, false, fmt.Errorf("find context: %w", err)
	}
	return types.ProviderContext{ProviderID: doc.ProviderID, Meta: doc.Meta}, true, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
