package repository

import (
	"errors"

	"gorm.io/gorm"

	"ltvsync/internal/models"
)

// SyncConfigRepository handles sync_configs. The newest row is the active one.
type SyncConfigRepository struct {
	db *gorm.DB
}

func NewSyncConfigRepository(db *gorm.DB) *SyncConfigRepository {
	return &SyncConfigRepository{db: db}
}

// Latest returns the active configuration, or nil when none exists.
func (r *SyncConfigRepository) Latest() (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	err := r.db.Order("id DESC").First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *SyncConfigRepository) FindByID(id uint) (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	err := r.db.Where("id = ?", id).First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save updates the active configuration in place, or creates the first one.
func (r *SyncConfigRepository) Save(fieldKey, fieldName, adAccountID string) (*models.SyncConfig, error) {
	var saved models.SyncConfig
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Order("id DESC").First(&saved).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			saved = models.SyncConfig{
				GHLLTVFieldKey:  fieldKey,
				GHLLTVFieldName: fieldName,
				MetaAdAccountID: adAccountID,
				SyncEnabled:     true,
			}
			return tx.Create(&saved).Error
		}
		if err != nil {
			return err
		}
		saved.GHLLTVFieldKey = fieldKey
		saved.GHLLTVFieldName = fieldName
		saved.MetaAdAccountID = adAccountID
		return tx.Save(&saved).Error
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// SetEnabled toggles scheduled syncs for the active configuration.
func (r *SyncConfigRepository) SetEnabled(id uint, enabled bool) error {
	return r.db.Model(&models.SyncConfig{}).Where("id = ?", id).Update("sync_enabled", enabled).Error
}
