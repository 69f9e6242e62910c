package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/tenantgate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"gorm.io/gorm"
)

type apiKeyModel struct {
	ID        string     `gorm:"column:id;primaryKey"`
	Name      string     `gorm:"column:name;not null"`
	KeyHash   string     `gorm:"column:key_hash;not null;uniqueIndex"`
	Prefix    string     `gorm:"column:prefix;not null"`
	TenantID  string     `gorm:"column:tenant_id;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;not null"`
	LastUsed  *time.Time `gorm:"column:last_used"`
	RevokedAt *time.Time `gorm:"column:revoked_at"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}

func (m apiKeyModel) toDomain() domain.APIKey {
	return domain.APIKey{
		ID:        m.ID,
		Name:      m.Name,
		KeyHash:   m.KeyHash,
		Prefix:    m.Prefix,
		TenantID:  m.TenantID,
		CreatedAt: m.CreatedAt,
		LastUsed:  m.LastUsed,
		RevokedAt: m.RevokedAt,
	}
}

type APIKeyRepository struct {
	db *gormsqlite.DB
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key domain.APIKey) error {
	model := apiKeyModel{
		ID:        key.ID,
		Name:      key.Name,
		KeyHash:   key.KeyHash,
		Prefix:    key.Prefix,
		TenantID:  key.TenantID,
		CreatedAt: key.CreatedAt,
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) FindByHash(ctx context.Context, keyHash string) (domain.APIKey, error) {
	var model apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("key_hash = ?", keyHash).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.APIKey{}, domain.ErrNotFound
		}
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return model.toDomain(), nil
}

func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Model(&apiKeyModel{}).Where("id = ?", id).Update("last_used", at.UTC()).Error
	})
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, id string, at time.Time) (domain.APIKey, bool, error) {
	var (
		model   apiKeyModel
		changed bool
	)
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).
			Where("id = ? AND revoked_at IS NULL", id).
			Update("revoked_at", at.UTC())
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return tx.Where("id = ?", id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.APIKey{}, false, domain.ErrNotFound
		}
		return domain.APIKey{}, false, fmt.Errorf("revoke api key: %w", err)
	}
	return model.toDomain(), changed, nil
}

func (r *APIKeyRepository) ListActive(ctx context.Context, tenantID string) ([]domain.APIKey, error) {
	var rows []apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("tenant_id = ? AND revoked_at IS NULL", tenantID).
			Order("created_at ASC").
			Order("id ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	result := make([]domain.APIKey, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}
