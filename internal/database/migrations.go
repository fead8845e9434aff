package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/drafts"
)

const (
	migrationPurgeBlankCommentDrafts = "2026-09-14_purge_blank_comment_drafts"
	migrationTrimDraftParentIDs      = "2026-10-02_trim_draft_parent_event_ids"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func registeredMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationPurgeBlankCommentDrafts, apply: purgeBlankCommentDrafts},
		{name: migrationTrimDraftParentIDs, apply: trimDraftParentEventIDs},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range registeredMigrations() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Blank drafts were written before saving empty content started deleting the row.
func purgeBlankCommentDrafts(db *gorm.DB) error {
	return db.Where("TRIM(content) = ''").Delete(&drafts.CommentDraft{}).Error
}

func trimDraftParentEventIDs(db *gorm.DB) error {
	return db.Model(&drafts.CommentDraft{}).
		Where("parent_event_id <> TRIM(parent_event_id)").
		Update("parent_event_id", gorm.Expr("TRIM(parent_event_id)")).Error
}
