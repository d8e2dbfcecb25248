package bootstrap

import (
	"fmt"

	"gorm.io/gorm"

	"ltvsync/internal/models"
)

// Seed values for the first configuration, usually taken from the environment.
type Seed struct {
	LTVFieldKey     string
	LTVFieldName    string
	MetaAdAccountID string
}

// MigrateAndSeed ensures required tables exist and, when seed carries a field
// key and no configuration exists yet, inserts the first configuration.
func MigrateAndSeed(db *gorm.DB, seed *Seed) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := seedDefaults(db, seed); err != nil {
		return fmt.Errorf("seed defaults failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.SyncConfig{},
		&models.SyncRun{},
		&models.SyncContact{},
	}
}

func seedDefaults(db *gorm.DB, seed *Seed) error {
	if seed == nil || seed.LTVFieldKey == "" {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.SyncConfig{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		name := seed.LTVFieldName
		if name == "" {
			name = seed.LTVFieldKey
		}
		return tx.Create(&models.SyncConfig{
			GHLLTVFieldKey:  seed.LTVFieldKey,
			GHLLTVFieldName: name,
			MetaAdAccountID: seed.MetaAdAccountID,
			SyncEnabled:     true,
		}).Error
	})
}
