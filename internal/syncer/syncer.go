// Package syncer runs the CRM to ad-platform audience sync.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"ltvsync/internal/ghl"
	"ltvsync/internal/hasher"
	"ltvsync/internal/meta"
	"ltvsync/internal/metrics"
	"ltvsync/internal/models"
	"ltvsync/internal/normalizer"
	"ltvsync/internal/notify"
	"ltvsync/internal/repository"
)

// Audience naming.
const (
	AudienceName        = "GHL-HighValue"
	AudienceDescription = "GHL high-value contacts synced via LTV normalization"
	LookalikeSuffix     = "-LAL-1%"
)

// ContactSource is the CRM side of a sync.
type ContactSource interface {
	FetchAllContacts(ctx context.Context) ([]ghl.Contact, error)
	FetchFieldMetadata(ctx context.Context) ([]ghl.Field, error)
}

// AudienceManager is the ad-platform side of a sync.
type AudienceManager interface {
	CreateAudience(ctx context.Context, name, description string) (meta.Audience, error)
	DeleteAllUsers(ctx context.Context, audienceID string) error
	UploadUsers(ctx context.Context, audienceID string, schema []string, rows [][]any) (meta.UploadResult, error)
	CreateLookalike(ctx context.Context, originID, name string) (meta.Audience, error)
}

// ContactStore persists per-contact results of a run.
type ContactStore interface {
	CreateBatch(contacts []models.SyncContact) error
}

// Deps bundles the collaborators of a Service.
type Deps struct {
	Configs    *repository.SyncConfigRepository
	Runs       *repository.SyncRunRepository
	Contacts   ContactStore
	Source     ContactSource
	Audiences  AudienceManager
	Normalizer *normalizer.Normalizer
	Notifier   notify.Notifier
	Logger     *zap.Logger
}

// Service owns the single-flight guard and executes runs.
type Service struct {
	configs    *repository.SyncConfigRepository
	runs       *repository.SyncRunRepository
	contacts   ContactStore
	source     ContactSource
	audiences  AudienceManager
	normalizer *normalizer.Normalizer
	notifier   notify.Notifier
	logger     *zap.Logger

	guard Guard
	wg    sync.WaitGroup
	now   func() time.Time
	newID func() string
}

func New(d Deps) *Service {
	n := d.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		configs:    d.Configs,
		runs:       d.Runs,
		contacts:   d.Contacts,
		source:     d.Source,
		audiences:  d.Audiences,
		normalizer: d.Normalizer,
		notifier:   n,
		logger:     d.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// TriggerResult identifies a run started in the background.
type TriggerResult struct {
	ConfigID uint `json:"config_id"`
	RunID    uint `json:"run_id"`
}

// Status is a snapshot of the guard and the newest stored run.
type Status struct {
	IsRunning     bool            `json:"is_running"`
	RunningSyncID *uint           `json:"running_sync_id"`
	LastRun       *models.SyncRun `json:"last_run"`
}

// workItem carries one contact through every stage of a run.
type workItem struct {
	contact ghl.Contact
	raw     float64
	score   int
	row     []any
}

// Trigger starts a run for the latest configuration and returns once the run
// record exists. The pipeline continues in the background, detached from
// ctx's cancellation.
func (s *Service) Trigger(ctx context.Context) (*TriggerResult, error) {
	cfg, err := s.latestConfig()
	if err != nil {
		return nil, err
	}
	run, err := s.begin(cfg)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.WithoutCancel(ctx), run, cfg)
	}()

	return &TriggerResult{ConfigID: cfg.ID, RunID: run.ID}, nil
}

// RunOnce executes a run for configID synchronously and returns the stored result.
func (s *Service) RunOnce(ctx context.Context, configID uint) (*models.SyncRun, error) {
	cfg, err := s.configs.FindByID(configID)
	if err != nil {
		return nil, fmt.Errorf("load sync config %d: %w", configID, err)
	}
	return s.run(ctx, cfg)
}

// RunLatest executes a run for the latest configuration synchronously.
func (s *Service) RunLatest(ctx context.Context) (*models.SyncRun, error) {
	cfg, err := s.latestConfig()
	if err != nil {
		return nil, err
	}
	return s.run(ctx, cfg)
}

func (s *Service) run(ctx context.Context, cfg *models.SyncConfig) (*models.SyncRun, error) {
	run, err := s.begin(cfg)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, run, cfg)
	return s.runs.FindByID(run.ID)
}

// Status reports whether a run is in progress along with the newest run.
func (s *Service) Status() (*Status, error) {
	last, err := s.runs.Latest()
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	st := &Status{LastRun: last}
	if id, running := s.guard.Running(); running {
		st.IsRunning = true
		if id != 0 {
			st.RunningSyncID = &id
		}
	}
	return st, nil
}

// Running reports whether a run currently holds the guard.
func (s *Service) Running() bool {
	_, running := s.guard.Running()
	return running
}

// Wait blocks until background runs started by Trigger have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// ReportStale logs runs left in the running state by a previous process.
// Their status is left untouched.
func (s *Service) ReportStale() int {
	stale, err := s.runs.ListRunning()
	if err != nil {
		s.logger.Error("Failed to list stale runs", zap.Error(err))
		return 0
	}
	for _, r := range stale {
		s.logger.Warn("Sync run was interrupted by a previous shutdown",
			zap.Uint("run_id", r.ID),
			zap.String("run_uuid", r.RunUUID),
			zap.Time("started_at", r.StartedAt))
	}
	return len(stale)
}

func (s *Service) latestConfig() (*models.SyncConfig, error) {
	cfg, err := s.configs.Latest()
	if err != nil {
		return nil, fmt.Errorf("load sync config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNoConfig
	}
	return cfg, nil
}

// begin claims the guard and creates the running record.
func (s *Service) begin(cfg *models.SyncConfig) (*models.SyncRun, error) {
	if !s.guard.TryAcquire() {
		return nil, ErrAlreadyRunning
	}
	run, err := s.runs.Create(cfg.ID, s.newID(), s.now())
	if err != nil {
		s.guard.Release()
		return nil, fmt.Errorf("create sync run: %w", err)
	}
	s.guard.Bind(run.ID)
	metrics.RunStarted()
	return run, nil
}

func (s *Service) execute(ctx context.Context, run *models.SyncRun, cfg *models.SyncConfig) {
	defer s.guard.Release()

	logger := s.logger.With(zap.Uint("run_id", run.ID), zap.String("run_uuid", run.RunUUID))
	if err := s.safePipeline(ctx, run, cfg, logger); err != nil {
		// Status only turns success once Finalize has stored it.
		finalized := run.Status == models.SyncStatusSuccess
		if !finalized {
			s.fail(ctx, run, err, logger)
			return
		}
		logger.Error("Post-completion step failed, run stays successful", zap.Error(err))
	}

	if err := s.notifier.RunSucceeded(ctx, run); err != nil {
		logger.Error("Failed to send success notification", zap.Error(err))
	}
}

func (s *Service) safePipeline(ctx context.Context, run *models.SyncRun, cfg *models.SyncConfig, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sync: %v", r)
		}
	}()
	return s.pipeline(ctx, run, cfg, logger)
}

func (s *Service) pipeline(ctx context.Context, run *models.SyncRun, cfg *models.SyncConfig, logger *zap.Logger) error {
	logger.Info("Starting sync run", zap.Uint("config_id", cfg.ID), zap.String("ltv_field", cfg.GHLLTVFieldKey))

	// Step 1: contacts
	contacts, err := s.source.FetchAllContacts(ctx)
	if err != nil {
		return fmt.Errorf("fetch contacts: %w", err)
	}
	if len(contacts) == 0 {
		return ErrNoContacts
	}
	logger.Info("Fetched contacts", zap.Int("count", len(contacts)))

	// Step 2: resolve the LTV field
	fields, err := s.source.FetchFieldMetadata(ctx)
	if err != nil {
		return fmt.Errorf("fetch custom fields: %w", err)
	}
	fieldID, err := ResolveFieldID(fields, cfg.GHLLTVFieldKey)
	if err != nil {
		return err
	}

	// Step 3: extract values
	items := make([]workItem, len(contacts))
	missing, nonZero := 0, 0
	for i, c := range contacts {
		v, ok := ExtractLTV(c, fieldID)
		if !ok {
			missing++
		}
		if v != 0 {
			nonZero++
		}
		items[i] = workItem{contact: c, raw: v}
	}
	logger.Info("Extracted LTV values",
		zap.Int("contacts", len(items)),
		zap.Int("without_value", missing),
		zap.Int("non_zero", nonZero))
	if nonZero == 0 {
		logger.Warn("All LTV values are zero, uploading uniform values")
	}

	run.ContactsProcessed = len(items)
	if err := s.runs.Update(run.ID, map[string]interface{}{"contacts_processed": len(items)}); err != nil {
		return fmt.Errorf("record processed count: %w", err)
	}

	// Step 4: normalize
	raw := make([]float64, len(items))
	for i := range items {
		raw[i] = items[i].raw
	}
	scores, err := s.normalizer.Normalize(ctx, raw)
	if err != nil {
		return fmt.Errorf("normalize values: %w", err)
	}
	if len(scores) != len(items) {
		return fmt.Errorf("%w: got %d scores for %d contacts", normalizer.ErrLengthMismatch, len(scores), len(items))
	}
	for i := range items {
		items[i].score = scores[i]
	}
	stats := normalizer.Summarize(raw, scores)

	// Step 5: hash
	rows := make([][]any, len(items))
	for i := range items {
		items[i].row = hasher.PrepareRow(identity(items[i].contact), items[i].score)
		rows[i] = items[i].row
	}

	// Step 6: audience
	prior, err := s.runs.LatestWithAudience(cfg.ID)
	if err != nil {
		return fmt.Errorf("load prior run: %w", err)
	}
	audience, err := s.resolveAudience(ctx, prior, logger)
	if err != nil {
		return err
	}

	// Step 7: upload
	upload, err := s.audiences.UploadUsers(ctx, audience.ID, hasher.Schema, rows)
	if err != nil {
		return fmt.Errorf("upload users: %w", err)
	}

	// Step 8: lookalike
	lookalike, err := s.resolveLookalike(ctx, prior, audience, logger)
	if err != nil {
		return err
	}

	// Step 9: finalize
	completed := s.now()
	err = s.runs.Finalize(run.ID, models.SyncStatusSuccess, completed, map[string]interface{}{
		"contacts_processed":  len(items),
		"contacts_matched":    upload.NumReceived,
		"meta_audience_id":    audience.ID,
		"meta_audience_name":  audience.Name,
		"meta_lookalike_id":   lookalike.ID,
		"meta_lookalike_name": lookalike.Name,
		"normalization_stats": datatypes.NewJSONType(stats),
	})
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	run.Status = models.SyncStatusSuccess
	run.CompletedAt = &completed
	run.ContactsMatched = upload.NumReceived
	run.MetaAudienceID, run.MetaAudienceName = &audience.ID, &audience.Name
	run.MetaLookalikeID, run.MetaLookalikeName = &lookalike.ID, &lookalike.Name
	run.NormalizationStats = datatypes.NewJSONType(stats)

	metrics.Uploaded(len(items), upload.NumReceived, upload.NumInvalid)
	metrics.RunFinished(models.SyncStatusSuccess, completed.Sub(run.StartedAt))
	logger.Info("Sync run completed",
		zap.Int("contacts", len(items)),
		zap.Int("matched", upload.NumReceived),
		zap.Int("invalid", upload.NumInvalid),
		zap.String("audience_id", audience.ID),
		zap.String("lookalike_id", lookalike.ID))

	// Step 10: contact details; the run stays successful if this fails.
	if err := s.contacts.CreateBatch(contactRecords(run.ID, items)); err != nil {
		logger.Error("Failed to store contact details", zap.Error(err))
	}
	return nil
}

func (s *Service) resolveAudience(ctx context.Context, prior *models.SyncRun, logger *zap.Logger) (meta.Audience, error) {
	if prior != nil && prior.MetaAudienceID != nil && *prior.MetaAudienceID != "" {
		aud := meta.Audience{ID: *prior.MetaAudienceID, Name: AudienceName}
		if prior.MetaAudienceName != nil && *prior.MetaAudienceName != "" {
			aud.Name = *prior.MetaAudienceName
		}
		logger.Info("Reusing existing audience", zap.String("audience_id", aud.ID))
		if err := s.audiences.DeleteAllUsers(ctx, aud.ID); err != nil {
			return meta.Audience{}, fmt.Errorf("clear audience %s: %w", aud.ID, err)
		}
		return aud, nil
	}

	aud, err := s.audiences.CreateAudience(ctx, AudienceName, AudienceDescription)
	if err != nil {
		return meta.Audience{}, fmt.Errorf("create audience: %w", err)
	}
	return aud, nil
}

func (s *Service) resolveLookalike(ctx context.Context, prior *models.SyncRun, audience meta.Audience, logger *zap.Logger) (meta.Audience, error) {
	name := audience.Name + LookalikeSuffix
	if prior != nil && prior.MetaLookalikeID != nil && *prior.MetaLookalikeID != "" {
		lal := meta.Audience{ID: *prior.MetaLookalikeID, Name: name}
		if prior.MetaLookalikeName != nil && *prior.MetaLookalikeName != "" {
			lal.Name = *prior.MetaLookalikeName
		}
		logger.Info("Reusing existing lookalike audience", zap.String("lookalike_id", lal.ID))
		return lal, nil
	}

	lal, err := s.audiences.CreateLookalike(ctx, audience.ID, name)
	if err != nil {
		return meta.Audience{}, fmt.Errorf("create lookalike: %w", err)
	}
	return lal, nil
}

func (s *Service) fail(ctx context.Context, run *models.SyncRun, cause error, logger *zap.Logger) {
	msg := cause.Error()
	logger.Error("Sync run failed", zap.Error(cause))

	completed := s.now()
	if err := s.runs.Finalize(run.ID, models.SyncStatusFailed, completed, map[string]interface{}{
		"error_message": msg,
	}); err != nil {
		logger.Error("Failed to record run failure", zap.Error(err))
	}
	run.Status = models.SyncStatusFailed
	run.CompletedAt = &completed
	run.ErrorMessage = &msg
	metrics.RunFinished(models.SyncStatusFailed, completed.Sub(run.StartedAt))

	if err := s.notifier.RunFailed(ctx, run, msg); err != nil {
		logger.Error("Failed to send failure notification", zap.Error(err))
	}
}

func identity(c ghl.Contact) hasher.Identity {
	return hasher.Identity{
		Email:      c.Email,
		Phone:      c.Phone,
		FirstName:  c.FirstName,
		LastName:   c.LastName,
		City:       c.City,
		State:      c.State,
		PostalCode: c.PostalCode,
		Country:    c.Country,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func contactRecords(runID uint, items []workItem) []models.SyncContact {
	out := make([]models.SyncContact, len(items))
	for i, it := range items {
		out[i] = models.SyncContact{
			SyncRunID:       runID,
			GHLContactID:    it.contact.ID,
			Email:           nilIfEmpty(it.contact.Email),
			Phone:           nilIfEmpty(it.contact.Phone),
			FirstName:       nilIfEmpty(it.contact.FirstName),
			LastName:        nilIfEmpty(it.contact.LastName),
			RawLTV:          it.raw,
			NormalizedValue: it.score,
			MetaMatched:     true,
		}
	}
	return out
}
