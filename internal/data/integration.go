package data

import (
	"context"
	"fmt"
	"time"

	"ConnectorLane/internal/biz"
	"ConnectorLane/internal/conf"
	"ConnectorLane/pkg/crypto"
	pkgerrors "ConnectorLane/pkg/errors"
	"ConnectorLane/pkg/integration"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// Integration is the GORM model for the integrations table.
type Integration struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	OrganizationID string    `gorm:"column:organization_id;type:varchar(36);not null;index"`
	Provider       string    `gorm:"column:provider;type:varchar(50);not null"`
	Config         string    `gorm:"column:config;type:json"`
	Active         bool      `gorm:"column:active;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Integration) TableName() string {
	return "integrations"
}

// IntegrationRepo implements biz.IntegrationRepo over the integrations table.
type IntegrationRepo struct {
	db        *gorm.DB
	decrypter integration.Decrypter
	logger    *log.Helper
}

type noKeyDecrypter struct{}

func (noKeyDecrypter) Decrypt(v string) (string, error) {
	if crypto.IsEncrypted(v) {
		return "", crypto.ErrNoKey
	}
	return v, nil
}

// NewIntegrationRepo creates an IntegrationRepo. Secrets stored encrypted are
// decrypted with security.encryption_key.
func NewIntegrationRepo(db *gorm.DB, sec *conf.Security, logger log.Logger) (*IntegrationRepo, error) {
	repo := &IntegrationRepo{
		db:        db,
		decrypter: noKeyDecrypter{},
		logger:    log.NewHelper(logger),
	}

	if sec != nil && sec.EncryptionKey != "" {
		aes, err := crypto.NewAESCrypto([]byte(sec.EncryptionKey))
		if err != nil {
			return nil, err
		}
		repo.decrypter = aes
	}
	return repo, nil
}

// ListActiveIntegrations returns a ConnectorConfig for every active
// integration of the organization. Rows with a broken config are skipped.
func (r *IntegrationRepo) ListActiveIntegrations(ctx context.Context, organizationID string) ([]*biz.ConnectorConfig, error) {
	if r.db == nil {
		return nil, biz.ErrNoIntegrationRepo
	}

	var rows []Integration
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND active = ?", organizationID, true).
		Order("provider").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.ClassifyDBError(err)
	}

	cfgs := make([]*biz.ConnectorConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := r.toConfig(row)
		if err != nil {
			r.logger.Errorw("msg", "skipping integration with invalid config",
				"integration_id", row.ID,
				"provider", row.Provider,
				"error", err)
			continue
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (r *IntegrationRepo) toConfig(row Integration) (*biz.ConnectorConfig, error) {
	parsed, err := integration.Parse(row.Provider, []byte(row.Config))
	if err != nil {
		return nil, err
	}
	if err := parsed.Decrypt(r.decrypter); err != nil {
		return nil, fmt.Errorf("integration %s: %w", row.ID, err)
	}

	return &biz.ConnectorConfig{
		Provider:    row.Provider,
		BaseURL:     parsed.BaseURL,
		APIKey:      parsed.APIKey,
		Username:    parsed.Username,
		Password:    parsed.Password,
		DealerCode:  parsed.DealerCode,
		ProxyURL:    parsed.ProxyURL,
		Environment: parsed.Environment,
		Enabled:     row.Active,
	}, nil
}
