package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"ltvsync/internal/ghl"
	"ltvsync/internal/meta"
	"ltvsync/internal/models"
	"ltvsync/internal/normalizer"
	"ltvsync/internal/notify"
	"ltvsync/internal/pkg/testdb"
	"ltvsync/internal/repository"
	"ltvsync/internal/syncer"
)

type stubCRM struct {
	contacts []ghl.Contact
	fields   []ghl.Field
	err      error
}

func (s *stubCRM) FetchAllContacts(context.Context) ([]ghl.Contact, error) {
	return s.contacts, s.err
}

func (s *stubCRM) FetchFieldMetadata(context.Context) ([]ghl.Field, error) {
	return s.fields, s.err
}

type stubAds struct{}

func (stubAds) CreateAudience(_ context.Context, name, _ string) (meta.Audience, error) {
	return meta.Audience{ID: "aud-1", Name: name}, nil
}

func (stubAds) DeleteAllUsers(context.Context, string) error { return nil }

func (stubAds) UploadUsers(_ context.Context, _ string, _ []string, rows [][]any) (meta.UploadResult, error) {
	return meta.UploadResult{NumReceived: len(rows)}, nil
}

func (stubAds) CreateLookalike(_ context.Context, _, name string) (meta.Audience, error) {
	return meta.Audience{ID: "lal-1", Name: name}, nil
}

type halfTransform struct{}

func (halfTransform) Rank(_ context.Context, values []float64, _, _ float64) ([]int, error) {
	out := make([]int, len(values))
	for i := range out {
		out[i] = 50
	}
	return out, nil
}

type stubMailer struct {
	enabled bool
	err     error
	sent    int
}

func (s *stubMailer) Enabled() bool { return s.enabled }

func (s *stubMailer) SendTest(context.Context) error {
	s.sent++
	return s.err
}

type env struct {
	e        *echo.Echo
	crm      *stubCRM
	mailer   *stubMailer
	svc      *syncer.Service
	configs  *repository.SyncConfigRepository
	runs     *repository.SyncRunRepository
	contacts *repository.SyncContactRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testdb.New(t)
	logger := zap.NewNop()

	en := &env{
		e: echo.New(),
		crm: &stubCRM{
			contacts: []ghl.Contact{
				{ID: "c1", Email: "one@example.com", CustomFields: []ghl.FieldValue{{ID: "f-ltv", Value: "10"}}},
				{ID: "c2", Email: "two@example.com", CustomFields: []ghl.FieldValue{{ID: "f-ltv", Value: "20"}}},
			},
			fields: []ghl.Field{{ID: "f-ltv", FieldKey: "contact.ltv", Name: "LTV"}},
		},
		mailer:   &stubMailer{},
		configs:  repository.NewSyncConfigRepository(db),
		runs:     repository.NewSyncRunRepository(db),
		contacts: repository.NewSyncContactRepository(db),
	}
	en.svc = syncer.New(syncer.Deps{
		Configs:    en.configs,
		Runs:       en.runs,
		Contacts:   en.contacts,
		Source:     en.crm,
		Audiences:  stubAds{},
		Normalizer: normalizer.New(halfTransform{}, logger),
		Notifier:   notify.Nop{},
		Logger:     logger,
	})

	en.e.Validator = NewValidator()
	sh := NewSyncHandler(en.svc, en.runs, en.contacts, logger)
	ch := NewConfigHandler(en.configs, en.crm, Settings{
		MetaAdAccountID: "act_42",
		GHLLocationName: "Main Location",
		SMTPFrom:        "bot@example.com",
		SMTPTo:          "ops@example.com",
	}, logger)
	eh := NewEmailHandler(en.mailer, logger)

	g := en.e.Group("/api")
	g.GET("/config", ch.Get)
	g.POST("/config", ch.Save)
	g.GET("/custom-fields", ch.CustomFields)
	g.POST("/sync/trigger", sh.Trigger)
	g.GET("/sync/status", sh.Status)
	g.GET("/sync/history", sh.History)
	g.GET("/sync/:id", sh.Detail)
	g.GET("/sync/:id/export", sh.Export)
	g.POST("/email/test", eh.Test)
	return en
}

type envelope struct {
	Status bool            `json:"status"`
	Msg    string          `json:"msg"`
	Obj    json.RawMessage `json:"obj"`
}

func (en *env) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	en.e.ServeHTTP(rec, req)

	var out envelope
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (en *env) seedRun(t *testing.T, status string) *models.SyncRun {
	t.Helper()
	cfg, err := en.configs.Save("contact.ltv", "LTV", "act_42")
	require.NoError(t, err)
	started := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	run, err := en.runs.Create(cfg.ID, uuid.NewString(), started)
	require.NoError(t, err)
	require.NoError(t, en.runs.Finalize(run.ID, status, started.Add(90*time.Second), map[string]interface{}{
		"contacts_processed": 2,
	}))
	return run
}

// ── config ────────────────────────────────────────────────────────────

func TestConfig_GetEmpty(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Status)

	var obj models.ConfigResponse
	require.NoError(t, json.Unmarshal(body.Obj, &obj))
	assert.Nil(t, obj.Config)
	assert.Equal(t, "act_42", obj.MetaAdAccountID)
	assert.Equal(t, "Main Location", obj.GHLLocationName)
	assert.Equal(t, "ops@example.com", obj.SMTPTo)
}

func TestConfig_SaveUsesEnvironmentAdAccount(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodPost, "/api/config",
		`{"ghl_ltv_field_key":"contact.ltv","ghl_ltv_field_name":"LTV","meta_ad_account_id":"act_ignored"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, body.Status)

	cfg, err := en.configs.Latest()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "contact.ltv", cfg.GHLLTVFieldKey)
	assert.Equal(t, "act_42", cfg.MetaAdAccountID)
	assert.True(t, cfg.SyncEnabled)

	// second save updates in place and can disable scheduling
	rec, _ = en.do(t, http.MethodPost, "/api/config",
		`{"ghl_ltv_field_key":"contact.ltv_total","ghl_ltv_field_name":"LTV Total","sync_enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	again, err := en.configs.Latest()
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, again.ID)
	assert.Equal(t, "contact.ltv_total", again.GHLLTVFieldKey)
	assert.False(t, again.SyncEnabled)
}

func TestConfig_SaveValidation(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodPost, "/api/config", `{"ghl_ltv_field_name":"LTV"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, body.Status)
	assert.Equal(t, "ghl_ltv_field_key is required", body.Msg)

	rec, body = en.do(t, http.MethodPost, "/api/config", `{"ghl_ltv_field_key":"`+strings.Repeat("k", 256)+`","ghl_ltv_field_name":"LTV"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ghl_ltv_field_key must be at most 255 characters", body.Msg)

	rec, body = en.do(t, http.MethodPost, "/api/config", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", body.Msg)
}

func TestCustomFields(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodGet, "/api/custom-fields", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var obj struct {
		CustomFields []ghl.Field `json:"customFields"`
	}
	require.NoError(t, json.Unmarshal(body.Obj, &obj))
	require.Len(t, obj.CustomFields, 1)
	assert.Equal(t, "contact.ltv", obj.CustomFields[0].FieldKey)

	en.crm.err = errors.New("GHL API returned status 401")
	rec, body = en.do(t, http.MethodGet, "/api/custom-fields", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "GHL API error: GHL API returned status 401", body.Msg)
}

// ── sync ──────────────────────────────────────────────────────────────

func TestTrigger_NoConfig(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodPost, "/api/sync/trigger", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No sync configuration found. Please configure first.", body.Msg)
}

func TestTrigger_RunsInBackground(t *testing.T) {
	en := newEnv(t)
	_, err := en.configs.Save("contact.ltv", "LTV", "act_42")
	require.NoError(t, err)

	rec, body := en.do(t, http.MethodPost, "/api/sync/trigger", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var obj models.TriggerResponse
	require.NoError(t, json.Unmarshal(body.Obj, &obj))
	assert.NotZero(t, obj.RunID)
	assert.Equal(t, "Sync triggered", obj.Message)

	en.svc.Wait()

	rec, body = en.do(t, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.SyncStatusResponse
	require.NoError(t, json.Unmarshal(body.Obj, &st))
	assert.False(t, st.IsRunning)
	assert.Nil(t, st.RunningSyncID)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, obj.RunID, st.LastRun.ID)
	assert.Equal(t, models.SyncStatusSuccess, st.LastRun.Status)
	require.NotNil(t, st.LastRun.NormalizationStats)
	assert.Equal(t, 2, st.LastRun.NormalizationStats.Count)

	rec, body = en.do(t, http.MethodGet, "/api/sync/"+itoa(obj.RunID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		ID             uint                   `json:"id"`
		ContactSamples []models.ContactSample `json:"contact_samples"`
	}
	require.NoError(t, json.Unmarshal(body.Obj, &detail))
	assert.Equal(t, obj.RunID, detail.ID)
	assert.Len(t, detail.ContactSamples, 2)
}

func TestStatus_Empty(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_running":false,"running_sync_id":null,"last_run":null}`, string(body.Obj))
}

func TestHistory_Paginates(t *testing.T) {
	en := newEnv(t)
	for i := 0; i < 3; i++ {
		en.seedRun(t, models.SyncStatusSuccess)
	}

	rec, body := en.do(t, http.MethodGet, "/api/sync/history?page=2&per_page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.HistoryResponse
	require.NoError(t, json.Unmarshal(body.Obj, &page))
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.PerPage)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Runs, 1)
	require.NotNil(t, page.Runs[0].DurationSeconds)
	assert.Equal(t, 90.0, *page.Runs[0].DurationSeconds)
}

func TestHistory_EmptyAndCapped(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodGet, "/api/sync/history?per_page=500&page=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.HistoryResponse
	require.NoError(t, json.Unmarshal(body.Obj, &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, maxPerPage, page.PerPage)
	assert.Zero(t, page.TotalPages)
	assert.Empty(t, page.Runs)
}

func TestDetail_Errors(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodGet, "/api/sync/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Sync run not found", body.Msg)

	rec, _ = en.do(t, http.MethodGet, "/api/sync/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	en := newEnv(t)
	run := en.seedRun(t, models.SyncStatusSuccess)
	email := "one@example.com"
	require.NoError(t, en.contacts.CreateBatch([]models.SyncContact{
		{SyncRunID: run.ID, GHLContactID: "c1", Email: &email, RawLTV: 10, NormalizedValue: 50, MetaMatched: true},
	}))

	rec, _ := en.do(t, http.MethodGet, "/api/sync/"+itoa(run.ID)+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "sync_run_"+itoa(run.ID)+"_contacts.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Contacts")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c1", rows[1][0])
}

// ── email ─────────────────────────────────────────────────────────────

func TestEmailTest(t *testing.T) {
	en := newEnv(t)

	rec, body := en.do(t, http.MethodPost, "/api/email/test", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "SMTP not configured", body.Msg)
	assert.Zero(t, en.mailer.sent)

	en.mailer.enabled = true
	rec, body = en.do(t, http.MethodPost, "/api/email/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, string(body.Obj))

	en.mailer.err = errors.New("dial tcp: connection refused")
	rec, body = en.do(t, http.MethodPost, "/api/email/test", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to send test email: dial tcp: connection refused", body.Msg)
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, totalPages(0, 20))
	assert.Equal(t, 1, totalPages(20, 20))
	assert.Equal(t, 2, totalPages(21, 20))
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
