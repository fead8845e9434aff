// Package drafts persists comment drafts so that an unfinished comment
// survives page reloads and server restarts.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/timeline"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew  = "drafts.store.new"
	opSave      = "drafts.save"
	opLoad      = "drafts.load"
	opDelete    = "drafts.delete"
	opPurge     = "drafts.purge"
	opListDraft = "drafts.list"
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}

// IDFunc issues draft identifiers.
type IDFunc func() (string, error)

func newDraftID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// StoreConfig wires a Store. Clock, NewID and Logger are optional.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	NewID    IDFunc
	Logger   *zap.Logger
}

// Store keeps one draft per composer.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	newID  IDFunc
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newDraftID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, newID: newID, logger: logger}, nil
}

// Save upserts the draft of a composer. Whitespace-only content removes it.
func (s *Store) Save(ctx context.Context, key DraftKey, content string) error {
	if strings.TrimSpace(content) == "" {
		return s.Delete(ctx, key)
	}
	draftID, err := s.newID()
	if err != nil {
		s.logError(opSave, "id_generation_failed", err, zap.String("draft_key", key.String()))
		return newServiceError(opSave, "id_generation_failed", err)
	}
	draft := CommentDraft{
		DraftID:          draftID,
		UserID:           key.UserID,
		RequestID:        key.RequestID,
		ParentEventID:    key.ParentEventID,
		Content:          content,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "request_id"}, {Name: "parent_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at_s"}),
	}).Create(&draft).Error
	if err != nil {
		s.logError(opSave, "upsert_failed", err, zap.String("draft_key", key.String()))
		return newServiceError(opSave, "upsert_failed", err)
	}
	return nil
}

// Load returns the draft of a composer and whether one exists.
func (s *Store) Load(ctx context.Context, key DraftKey) (CommentDraft, bool, error) {
	var draft CommentDraft
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND request_id = ? AND parent_event_id = ?", key.UserID, key.RequestID, key.ParentEventID).
		Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CommentDraft{}, false, nil
	}
	if err != nil {
		s.logError(opLoad, "query_failed", err, zap.String("draft_key", key.String()))
		return CommentDraft{}, false, newServiceError(opLoad, "query_failed", err)
	}
	return draft, true, nil
}

// Delete removes the draft of a composer. Deleting a missing draft succeeds.
func (s *Store) Delete(ctx context.Context, key DraftKey) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND request_id = ? AND parent_event_id = ?", key.UserID, key.RequestID, key.ParentEventID).
		Delete(&CommentDraft{}).Error
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("draft_key", key.String()))
		return newServiceError(opDelete, "delete_failed", err)
	}
	return nil
}

// ListForRequest returns every draft a user keeps on a request, root composer first.
func (s *Store) ListForRequest(ctx context.Context, userID, requestID string) ([]CommentDraft, error) {
	var drafts []CommentDraft
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND request_id = ?", userID, requestID).
		Order("parent_event_id ASC").
		Find(&drafts).Error
	if err != nil {
		s.logError(opListDraft, "query_failed", err)
		return nil, newServiceError(opListDraft, "query_failed", err)
	}
	return drafts, nil
}

// PurgeOlderThan removes drafts not touched since cutoff.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("updated_at_s < ?", cutoff.UTC().Unix()).
		Delete(&CommentDraft{})
	if result.Error != nil {
		s.logError(opPurge, "delete_failed", result.Error)
		return 0, newServiceError(opPurge, "delete_failed", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info("stale drafts purged", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// Bind returns the timeline view of one composer's draft.
func (s *Store) Bind(key DraftKey) timeline.DraftStore {
	return &boundDraft{store: s, key: key}
}

type boundDraft struct {
	store *Store
	key   DraftKey
}

func (b *boundDraft) Load(ctx context.Context) (string, bool, error) {
	draft, found, err := b.store.Load(ctx, b.key)
	if err != nil || !found {
		return "", found, err
	}
	return draft.Content, true, nil
}

func (b *boundDraft) Save(ctx context.Context, content string) error {
	return b.store.Save(ctx, b.key, content)
}

func (b *boundDraft) Delete(ctx context.Context) error {
	return b.store.Delete(ctx, b.key)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("drafts store error", attrs...)
}
