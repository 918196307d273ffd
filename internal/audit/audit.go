// Package audit appends entries to the audit log and serves the typed
// projections built from it.
//
// Writes are best-effort: a failed append is logged and never rolls back the
// mutation it describes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pipps-app/ProductFormulator-sub000/internal/log"
	"github.com/pipps-app/ProductFormulator-sub000/models"
)

// Changes is the serialized payload stored with every entry. Create and
// delete entries carry Data; updates carry Before and After.
type Changes struct {
	Description string `json:"description"`
	Before      any    `json:"before,omitempty"`
	After       any    `json:"after,omitempty"`
	Data        any    `json:"data,omitempty"`
}

// Entry is one mutation to record.
type Entry struct {
	TenantID    uint
	Action      models.AuditAction
	EntityType  string
	EntityID    uint
	EntityName  string
	Description string

	Before any
	After  any
	Data   any

	CostBefore        decimal.NullDecimal
	CostAfter         decimal.NullDecimal
	TriggerMaterialID *uint
	RunID             string

	At time.Time
}

var errIncomplete = errors.New("audit: entry needs a tenant, action, entity type and entity id")

// Append writes entry to the log.
func Append(ctx context.Context, db *gorm.DB, entry Entry) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	if entry.TenantID == 0 || entry.Action == "" || entry.EntityType == "" || entry.EntityID == 0 {
		return errIncomplete
	}

	payload, err := json.Marshal(Changes{
		Description: entry.Description,
		Before:      entry.Before,
		After:       entry.After,
		Data:        entry.Data,
	})
	if err != nil {
		return fmt.Errorf("encode audit changes: %w", err)
	}

	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	row := models.AuditLog{
		UserID:            entry.TenantID,
		Action:            entry.Action,
		EntityType:        entry.EntityType,
		EntityID:          entry.EntityID,
		EntityName:        entry.EntityName,
		Description:       truncate(entry.Description, 512),
		Changes:           string(payload),
		CostBefore:        entry.CostBefore,
		CostAfter:         entry.CostAfter,
		TriggerMaterialID: entry.TriggerMaterialID,
		RunID:             entry.RunID,
		Timestamp:         at.UTC(),
	}
	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Record appends entry and logs any failure instead of returning it.
func Record(ctx context.Context, db *gorm.DB, entry Entry) {
	if err := Append(ctx, db, entry); err != nil {
		log.Error(ctx, "audit append failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

// HasHistory reports whether the entity has any entry other than its creation.
func HasHistory(ctx context.Context, db *gorm.DB, entityType string, entityID uint) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	var count int64
	err := db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("entity_type = ? AND entity_id = ? AND action <> ?", entityType, entityID, models.AuditActionCreate).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check history of %s %d: %w", entityType, entityID, err)
	}
	return count > 0, nil
}

// Decode parses a stored Changes payload. It exists for display; business
// decisions read the typed columns instead.
func Decode(raw string) (Changes, error) {
	var changes Changes
	if strings.TrimSpace(raw) == "" {
		return changes, nil
	}
	if err := json.Unmarshal([]byte(raw), &changes); err != nil {
		return Changes{}, fmt.Errorf("decode audit changes: %w", err)
	}
	return changes, nil
}

// truncate cuts value to at most limit bytes without splitting a rune.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}
