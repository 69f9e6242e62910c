package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/tenantgate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
)

type keyAuditModel struct {
	ID       uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	KeyID    string    `gorm:"column:key_id;not null"`
	TenantID string    `gorm:"column:tenant_id;not null"`
	Action   string    `gorm:"column:action;not null"`
	At       time.Time `gorm:"column:at;not null"`
}

func (keyAuditModel) TableName() string {
	return "key_audit_logs"
}

type KeyAuditRepository struct {
	db *gormsqlite.DB
}

func NewKeyAuditRepository(db *gormsqlite.DB) *KeyAuditRepository {
	return &KeyAuditRepository{db: db}
}

func (r *KeyAuditRepository) Log(ctx context.Context, event domain.KeyAuditEvent) error {
	model := keyAuditModel{
		KeyID:    event.KeyID,
		TenantID: event.TenantID,
		Action:   string(event.Action),
		At:       event.At.UTC(),
	}
	if event.At.IsZero() {
		model.At = time.Now().UTC()
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("insert key audit event: %w", err)
	}
	return nil
}

func (r *KeyAuditRepository) ListByKey(ctx context.Context, keyID string) ([]domain.KeyAuditEvent, error) {
	var rows []keyAuditModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("key_id = ?", keyID).Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list key audit events: %w", err)
	}

	result := make([]domain.KeyAuditEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.KeyAuditEvent{
			KeyID:    row.KeyID,
			TenantID: row.TenantID,
			Action:   domain.KeyAuditAction(row.Action),
			At:       row.At,
		})
	}
	return result, nil
}
