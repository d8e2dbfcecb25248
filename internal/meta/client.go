package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"ltvsync/internal/pkg/httpclient"
	"ltvsync/internal/pkg/retry"
)

const (
	// BatchSize is the number of rows per upload call.
	BatchSize   = 10000
	callTimeout = 120 * time.Second
)

// Config holds the Marketing API settings.
type Config struct {
	BaseURL     string
	AccessToken string
	AdAccountID string
}

// StatusError is a non-retryable error response from the Graph API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Meta API returned status %d: %s", e.StatusCode, e.Body)
}

// Audience identifies a custom or lookalike audience.
type Audience struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UploadResult aggregates the per-batch counters of an upload session.
type UploadResult struct {
	NumReceived int `json:"num_received"`
	NumInvalid  int `json:"num_invalid"`
}

type userPayload struct {
	Payload struct {
		Schema []string `json:"schema"`
		Data   [][]any  `json:"data"`
	} `json:"payload"`
	Session uploadSession `json:"session"`
}

type uploadSession struct {
	SessionID         uint64 `json:"session_id"`
	BatchSeq          int    `json:"batch_seq"`
	LastBatchFlag     bool   `json:"last_batch_flag"`
	EstimatedNumTotal int    `json:"estimated_num_total"`
}

// Client manages value-based custom audiences on one ad account.
type Client struct {
	http      *httpclient.Client
	cfg       Config
	retry     retry.Policy
	sessionID func() uint64
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	client := httpclient.New(cfg.BaseURL).
		WithTimeout(callTimeout).
		WithQueryParam("access_token", cfg.AccessToken)

	policy := retry.RateLimited(3, 2*time.Second, 4*time.Second, 8*time.Second)
	policy.RetryTransport = true
	policy.OnRetry = func(attempt int, delay time.Duration, reason string) {
		logger.Warn("Meta request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("reason", reason))
	}

	return &Client{
		http:   client,
		cfg:    cfg,
		retry:  policy,
		logger: logger,
		sessionID: func() uint64 {
			return uint64(rand.Int63n(1<<32)) + 1
		},
	}
}

// AdAccount returns the account id with the act_ prefix the Graph API expects.
func (c *Client) AdAccount() string {
	if strings.HasPrefix(c.cfg.AdAccountID, "act_") {
		return c.cfg.AdAccountID
	}
	return "act_" + c.cfg.AdAccountID
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	resp, err := c.retry.Do(ctx, func(ctx context.Context) (*resty.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return c.http.JSON(ctx, body).Execute(method, path)
	})
	if err != nil {
		return fmt.Errorf("meta %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		c.logger.Error("Meta API error",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()))
		return &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode meta response: %w", err)
	}
	return nil
}

// CreateAudience creates a value-based custom audience.
func (c *Client) CreateAudience(ctx context.Context, name, description string) (Audience, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, resty.MethodPost, "/"+c.AdAccount()+"/customaudiences", map[string]interface{}{
		"name":                 name,
		"subtype":              "CUSTOM",
		"description":          description,
		"customer_file_source": "USER_PROVIDED_ONLY",
		"is_value_based":       true,
	}, &out)
	if err != nil {
		return Audience{}, err
	}
	c.logger.Info("Created Meta custom audience", zap.String("name", name), zap.String("id", out.ID))
	return Audience{ID: out.ID, Name: name}, nil
}

// DeleteAllUsers clears an audience's membership with an empty, final replace session.
func (c *Client) DeleteAllUsers(ctx context.Context, audienceID string) error {
	var body userPayload
	body.Payload.Schema = []string{"EMAIL"}
	body.Payload.Data = [][]any{}
	body.Session = uploadSession{
		SessionID:     c.sessionID(),
		BatchSeq:      1,
		LastBatchFlag: true,
	}
	if err := c.do(ctx, resty.MethodDelete, "/"+audienceID+"/users", body, nil); err != nil {
		return err
	}
	c.logger.Info("Cleared Meta audience users", zap.String("audience_id", audienceID))
	return nil
}

// UploadUsers uploads rows in BatchSize batches under a single session.
// The final batch carries last_batch_flag so the session replaces existing membership.
func (c *Client) UploadUsers(ctx context.Context, audienceID string, schema []string, rows [][]any) (UploadResult, error) {
	var result UploadResult
	totalBatches := (len(rows) + BatchSize - 1) / BatchSize
	if totalBatches == 0 {
		totalBatches = 1
	}
	sessionID := c.sessionID()

	for seq := 1; seq <= totalBatches; seq++ {
		start := (seq - 1) * BatchSize
		end := start + BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		c.logger.Info("Uploading batch",
			zap.Int("batch", seq),
			zap.Int("batches", totalBatches),
			zap.Int("contacts", len(batch)))

		var body userPayload
		body.Payload.Schema = schema
		body.Payload.Data = batch
		body.Session = uploadSession{
			SessionID:         sessionID,
			BatchSeq:          seq,
			LastBatchFlag:     seq == totalBatches,
			EstimatedNumTotal: len(rows),
		}

		var out struct {
			NumReceived       *int `json:"num_received"`
			NumInvalidEntries int  `json:"num_invalid_entries"`
		}
		if err := c.do(ctx, resty.MethodPost, "/"+audienceID+"/users", body, &out); err != nil {
			return result, fmt.Errorf("upload batch %d/%d: %w", seq, totalBatches, err)
		}
		if out.NumReceived != nil {
			result.NumReceived += *out.NumReceived
		} else {
			result.NumReceived += len(batch)
		}
		result.NumInvalid += out.NumInvalidEntries
	}

	c.logger.Info("Upload complete",
		zap.Int("received", result.NumReceived),
		zap.Int("invalid", result.NumInvalid))
	return result, nil
}

// CreateLookalike derives a 1% US lookalike from originID.
func (c *Client) CreateLookalike(ctx context.Context, originID, name string) (Audience, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, resty.MethodPost, "/"+c.AdAccount()+"/customaudiences", map[string]interface{}{
		"name":               name,
		"subtype":            "LOOKALIKE",
		"origin_audience_id": originID,
		"lookalike_spec": map[string]interface{}{
			"type":    "custom_ratio",
			"ratio":   0.01,
			"country": "US",
		},
	}, &out)
	if err != nil {
		return Audience{}, err
	}
	c.logger.Info("Created lookalike audience", zap.String("name", name), zap.String("id", out.ID))
	return Audience{ID: out.ID, Name: name}, nil
}
