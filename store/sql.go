package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/conclave-ai/conclave/types"
)

// responseRow is one provider response. The composite unique index is the
// idempotency key for upserts.
type responseRow struct {
	ID           uint   `gorm:"primaryKey"`
	SessionID    string `gorm:"size:64;uniqueIndex:idx_resp_key;index"`
	TurnID       string `gorm:"size:64;uniqueIndex:idx_resp_key;index"`
	ProviderID   string `gorm:"size:64;uniqueIndex:idx_resp_key"`
	ResponseType string `gorm:"size:32;uniqueIndex:idx_resp_key"`
	Idx          int    `gorm:"column:idx;uniqueIndex:idx_resp_key"`
	Text         string `gorm:"type:text"`
	Meta         []byte
	SoftError    bool
	UpdatedAt    time.Time
}

func (responseRow) TableName() string { return "provider_responses" }

// contextRow is one provider's continuation context within a session.
type contextRow struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  string `gorm:"size:64;uniqueIndex:idx_ctx_key"`
	ProviderID string `gorm:"size:64;uniqueIndex:idx_ctx_key"`
	Meta       []byte
	UpdatedAt  time.Time
}

func (contextRow) TableName() string { return "provider_contexts" }

// resultRow is one persisted workflow aggregate.
type resultRow struct {
	AITurnID   string `gorm:"primaryKey;size:64"`
	SessionID  string `gorm:"size:64;index"`
	UserTurnID string `gorm:"size:64"`
	Payload    []byte
	CreatedAt  time.Time
}

func (resultRow) TableName() string { return "workflow_results" }

// SQLStore is a TurnStore over gorm, shared by the sqlite, postgres and
// mysql drivers.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQL opens a gorm connection for the given driver (sqlite, postgres,
// mysql) and migrates the schema.
func OpenSQL(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewSQLStore(db, logger)
}

// NewSQLStore wraps an existing gorm handle and migrates the schema.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if err := db.AutoMigrate(&responseRow{}, &contextRow{}, &resultRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "sql_store")),
	}, nil
}

// upsertColumns is the idempotency key shared by every SQL backend.
var upsertColumns = []clause.Column{
	{Name: "session_id"}, {Name: "turn_id"}, {Name: "provider_id"},
	{Name: "response_type"}, {Name: "idx"},
}

func (s *SQLStore) UpsertProviderResponse(ctx context.Context, r StoredResponse) error {
	row := responseRow{
		SessionID:    r.SessionID,
		TurnID:       r.TurnID,
		ProviderID:   r.ProviderID,
		ResponseType: r.ResponseType,
		Idx:          r.Index,
		Text:         r.Text,
		Meta:         r.Meta,
		SoftError:    r.SoftError,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   upsertColumns,
		DoUpdates: clause.AssignmentColumns([]string{"text", "meta", "soft_error", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

func (s *SQLStore) GetProviderResponses(ctx context.Context, sessionID, turnID, providerID string) ([]StoredResponse, error) {
	var rows []responseRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND turn_id = ? AND provider_id = ?", sessionID, turnID, providerID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	return toStored(rows), nil
}

func (s *SQLStore) GetTurnResponses(ctx context.Context, sessionID, turnID, responseType string) ([]StoredResponse, error) {
	var rows []responseRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND turn_id = ? AND response_type = ?", sessionID, turnID, responseType).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query turn responses: %w", err)
	}
	return toStored(rows), nil
}

func (s *SQLStore) PersistWorkflowResult(ctx context.Context, _ *types.WorkflowRequest, resolved *types.ResolvedContext, result *WorkflowResult) (types.TurnRefs, error) {
	refs := types.TurnRefs{
		SessionID:  resolved.SessionID,
		UserTurnID: uuid.NewString(),
		AITurnID:   uuid.NewString(),
	}
	if refs.SessionID == "" {
		refs.SessionID = uuid.NewString()
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return types.TurnRefs{}, fmt.Errorf("marshal result: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&resultRow{
			AITurnID:   refs.AITurnID,
			SessionID:  refs.SessionID,
			UserTurnID: refs.UserTurnID,
			Payload:    payload,
		}).Error; err != nil {
			return err
		}
		for _, out := range result.Steps {
			for id, pr := range out.Results {
				row := responseRow{
					SessionID:    refs.SessionID,
					TurnID:       refs.AITurnID,
					ProviderID:   id,
					ResponseType: string(out.Type),
					Text:         pr.Text,
					Meta:         pr.Meta,
					SoftError:    pr.SoftError,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   upsertColumns,
					DoUpdates: clause.AssignmentColumns([]string{"text", "meta", "soft_error", "updated_at"}),
				}).Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return types.TurnRefs{}, fmt.Errorf("persist result: %w", err)
	}
	return refs, nil
}

func (s *SQLStore) SaveProviderContext(ctx context.Context, sessionID string, pc types.ProviderContext) error {
	row := contextRow{
		SessionID:  sessionID,
		ProviderID: pc.ProviderID,
		Meta:       pc.Meta,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"meta", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

func (s *SQLStore) GetProviderContext(ctx context.Context, sessionID, providerID string) (types.ProviderContext, bool, error) {
	var row contextRow
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND provider_id = ?", sessionID, providerID).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.ProviderContext{}, false, nil
	}
	if err != nil {
		return types.ProviderContext{}, false, fmt.Errorf("query context: %w", err)
	}
	return types.ProviderContext{ProviderID: row.ProviderID, Meta: row.Meta}, true, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func toStored(rows []responseRow) []StoredResponse {
	out := make([]StoredResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, StoredResponse{
			SessionID:    row.SessionID,
			TurnID:       row.TurnID,
			ProviderID:   row.ProviderID,
			ResponseType: row.ResponseType,
			Index:        row.Idx,
			Text:         row.Text,
			Meta:         row.Meta,
			SoftError:    row.SoftError,
		})
	}
	return out
}
