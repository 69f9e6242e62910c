package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/tenantgate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tenantgate/internal/core/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tenantModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Name          string    `gorm:"column:name;not null"`
	WebhookURL    string    `gorm:"column:webhook_url;not null"`
	WebhookSecret string    `gorm:"column:webhook_secret;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (tenantModel) TableName() string {
	return "tenants"
}

func (m tenantModel) toDomain() domain.Tenant {
	return domain.Tenant{
		ID:            m.ID,
		Name:          m.Name,
		WebhookURL:    m.WebhookURL,
		WebhookSecret: m.WebhookSecret,
		CreatedAt:     m.CreatedAt,
	}
}

type TenantRepository struct {
	db *gormsqlite.DB
}

func NewTenantRepository(db *gormsqlite.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Get(ctx context.Context, id string) (domain.Tenant, error) {
	var model tenantModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("id = ?", id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tenant{}, domain.ErrNotFound
		}
		return domain.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return model.toDomain(), nil
}

func (r *TenantRepository) FindByNameContaining(ctx context.Context, fragment string) ([]domain.Tenant, error) {
	var rows []tenantModel
	pattern := "%" + escapeLike(strings.ToLower(fragment)) + "%"
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("LOWER(name) LIKE ? ESCAPE '\\'", pattern).
			Order("created_at ASC").
			Order("id ASC").
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find tenants by name: %w", err)
	}

	result := make([]domain.Tenant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// Upsert is used by provisioning. CreatedAt is kept from the first insert.
func (r *TenantRepository) Upsert(ctx context.Context, tenant domain.Tenant) (domain.Tenant, error) {
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	model := tenantModel{
		ID:            tenant.ID,
		Name:          tenant.Name,
		WebhookURL:    tenant.WebhookURL,
		WebhookSecret: tenant.WebhookSecret,
		CreatedAt:     tenant.CreatedAt.UTC(),
	}

	var stored tenantModel
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "webhook_url", "webhook_secret"}),
		}).Create(&model).Error
		if err != nil {
			return err
		}
		return tx.Where("id = ?", tenant.ID).First(&stored).Error
	})
	if err != nil {
		return domain.Tenant{}, fmt.Errorf("upsert tenant: %w", err)
	}
	return stored.toDomain(), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
