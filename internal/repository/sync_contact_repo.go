package repository

import (
	"gorm.io/gorm"

	"ltvsync/internal/models"
)

const contactBatchSize = 500

// SyncContactRepository handles sync_contacts.
type SyncContactRepository struct {
	db *gorm.DB
}

func NewSyncContactRepository(db *gorm.DB) *SyncContactRepository {
	return &SyncContactRepository{db: db}
}

// CreateBatch inserts all contact rows of a run in one transaction.
func (r *SyncContactRepository) CreateBatch(contacts []models.SyncContact) error {
	if len(contacts) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&contacts, contactBatchSize).Error
	})
}

// Samples returns up to limit contacts of a run in insertion order.
func (r *SyncContactRepository) Samples(runID uint, limit int) ([]models.SyncContact, error) {
	var contacts []models.SyncContact
	err := r.db.Where("sync_run_id = ?", runID).Order("id ASC").Limit(limit).Find(&contacts).Error
	return contacts, err
}

// ListByRun returns every contact of a run.
func (r *SyncContactRepository) ListByRun(runID uint) ([]models.SyncContact, error) {
	var contacts []models.SyncContact
	err := r.db.Where("sync_run_id = ?", runID).Order("id ASC").Find(&contacts).Error
	return contacts, err
}

func (r *SyncContactRepository) CountByRun(runID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.SyncContact{}).Where("sync_run_id = ?", runID).Count(&count).Error
	return count, err
}
