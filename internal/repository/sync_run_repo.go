package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"ltvsync/internal/models"
)

// SyncRunRepository handles sync_runs.
type SyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Create inserts a new run in the running state.
func (r *SyncRunRepository) Create(configID uint, runUUID string, startedAt time.Time) (*models.SyncRun, error) {
	run := &models.SyncRun{
		RunUUID:   runUUID,
		ConfigID:  configID,
		StartedAt: startedAt,
		Status:    models.SyncStatusRunning,
	}
	if err := r.db.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Update applies column updates to a run.
func (r *SyncRunRepository) Update(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.SyncRun{}).Where("id = ?", id).Updates(updates).Error
}

// Finalize writes a terminal status. Only running rows are touched, so a
// terminal run is never overwritten.
func (r *SyncRunRepository) Finalize(id uint, status string, completedAt time.Time, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = status
	updates["completed_at"] = completedAt
	return r.db.Model(&models.SyncRun{}).
		Where("id = ? AND status = ?", id, models.SyncStatusRunning).
		Updates(updates).Error
}

func (r *SyncRunRepository) FindByID(id uint) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Latest returns the newest run, or nil when there are none.
func (r *SyncRunRepository) Latest() (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.Order("id DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestWithAudience returns the newest run for configID that recorded an audience id.
func (r *SyncRunRepository) LatestWithAudience(configID uint) (*models.SyncRun, error) {
	var run models.SyncRun
	err := r.db.Where("config_id = ? AND meta_audience_id IS NOT NULL AND meta_audience_id <> ''", configID).
		Order("id DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns one page of runs, newest first, with the total count.
func (r *SyncRunRepository) List(page, perPage int) ([]models.SyncRun, int64, error) {
	var total int64
	if err := r.db.Model(&models.SyncRun{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []models.SyncRun
	err := r.db.Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&runs).Error
	return runs, total, err
}

// ListRunning returns runs still marked running.
func (r *SyncRunRepository) ListRunning() ([]models.SyncRun, error) {
	var runs []models.SyncRun
	err := r.db.Where("status = ?", models.SyncStatusRunning).Order("id ASC").Find(&runs).Error
	return runs, err
}
