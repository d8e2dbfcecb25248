package ghl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"ltvsync/internal/cache"
	"ltvsync/internal/pkg/httpclient"
	"ltvsync/internal/pkg/retry"
)

const (
	apiVersion      = "2021-07-28"
	fieldsCacheKey  = "custom_fields"
	metadataTimeout = 30 * time.Second
	contactsTimeout = 60 * time.Second
)

// Config holds the GHL connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	LocationID string
	PageSize   int
	PageDelay  time.Duration
	FieldsTTL  time.Duration

	// Per-request deadlines. Zero means 30s for field metadata and 60s per contacts page.
	FieldsTimeout time.Duration
	PageTimeout   time.Duration
}

// StatusError is a non-success HTTP response from GHL.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GHL API returned status %d: %s", e.StatusCode, e.Body)
}

// Field describes a location custom field.
type Field struct {
	ID       string `json:"id"`
	FieldKey string `json:"fieldKey"`
	Name     string `json:"name"`
	DataType string `json:"dataType,omitempty"`
}

// FieldValue is one custom field entry on a contact. Value is whatever JSON GHL sent.
type FieldValue struct {
	ID    string      `json:"id"`
	Value interface{} `json:"value"`
}

// Contact is the subset of a GHL contact the sync needs.
type Contact struct {
	ID           string       `json:"id"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone"`
	FirstName    string       `json:"firstName"`
	LastName     string       `json:"lastName"`
	City         string       `json:"city"`
	State        string       `json:"state"`
	PostalCode   string       `json:"postalCode"`
	Country      string       `json:"country"`
	CustomFields []FieldValue `json:"customFields"`
}

type contactsPage struct {
	Contacts []Contact `json:"contacts"`
	Meta     struct {
		StartAfterID string      `json:"startAfterId"`
		StartAfter   interface{} `json:"startAfter"`
		NextPageURL  string      `json:"nextPageUrl"`
	} `json:"meta"`
}

// Client reads contacts and custom field metadata from one GHL location.
type Client struct {
	http   *httpclient.Client
	cfg    Config
	cache  cache.Cache
	retry  retry.Policy
	sleep  retry.Sleeper
	logger *zap.Logger
}

func New(cfg Config, c cache.Cache, logger *zap.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.FieldsTTL <= 0 {
		cfg.FieldsTTL = 5 * time.Minute
	}
	if cfg.FieldsTimeout <= 0 {
		cfg.FieldsTimeout = metadataTimeout
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = contactsTimeout
	}
	if c == nil {
		c = cache.NewMemory()
	}

	// The client-wide ceiling must not undercut either per-request context deadline.
	client := httpclient.New(cfg.BaseURL).
		WithTimeout(max(cfg.FieldsTimeout, cfg.PageTimeout)).
		WithBearerToken(cfg.APIKey).
		WithHeader("Version", apiVersion)

	policy := retry.RateLimited(5, retry.Exponential(time.Second, 4)...)
	policy.ReturnLast = true
	policy.OnRetry = func(attempt int, delay time.Duration, reason string) {
		logger.Warn("GHL rate limited, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("reason", reason))
	}

	return &Client{
		http:   client,
		cfg:    cfg,
		cache:  c,
		retry:  policy,
		sleep:  retry.Wait,
		logger: logger,
	}
}

func (c *Client) get(ctx context.Context, timeout time.Duration, path string, query map[string]string) (*resty.Response, error) {
	return c.retry.Do(ctx, func(ctx context.Context) (*resty.Response, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return c.http.Request(ctx).SetQueryParams(query).Get(path)
	})
}

// FetchFieldMetadata returns the location's custom fields, cached for FieldsTTL.
func (c *Client) FetchFieldMetadata(ctx context.Context) ([]Field, error) {
	var fields []Field
	found, err := c.cache.Get(ctx, fieldsCacheKey, &fields)
	if err != nil {
		c.logger.Warn("Custom field cache read failed", zap.Error(err))
	}
	if found {
		return fields, nil
	}

	resp, err := c.get(ctx, c.cfg.FieldsTimeout, "/locations/"+c.cfg.LocationID+"/customFields", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch custom fields: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var body struct {
		CustomFields []Field `json:"customFields"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode custom fields: %w", err)
	}
	if body.CustomFields == nil {
		body.CustomFields = []Field{}
	}

	if err := c.cache.Set(ctx, fieldsCacheKey, body.CustomFields, c.cfg.FieldsTTL); err != nil {
		c.logger.Warn("Custom field cache write failed", zap.Error(err))
	}
	c.logger.Info("Fetched custom fields from GHL", zap.Int("count", len(body.CustomFields)))
	return body.CustomFields, nil
}

// FetchAllContacts walks the contact list with cursor pagination.
// A page that holds only already-seen ids ends the walk.
func (c *Client) FetchAllContacts(ctx context.Context) ([]Contact, error) {
	var (
		all          []Contact
		seen         = make(map[string]struct{})
		startAfterID string
		startAfter   string
	)

	for {
		query := map[string]string{
			"locationId": c.cfg.LocationID,
			"limit":      strconv.Itoa(c.cfg.PageSize),
		}
		if startAfterID != "" {
			query["startAfterId"] = startAfterID
		}
		if startAfter != "" {
			query["startAfter"] = startAfter
		}

		resp, err := c.get(ctx, c.cfg.PageTimeout, "/contacts/", query)
		if err != nil {
			return nil, fmt.Errorf("fetch contacts: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			c.logger.Error("Fetch contacts failed",
				zap.Int("status", resp.StatusCode()),
				zap.String("body", resp.String()))
			return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
		}

		var page contactsPage
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("decode contacts page: %w", err)
		}
		if len(page.Contacts) == 0 {
			break
		}

		added := 0
		for _, ct := range page.Contacts {
			if ct.ID == "" {
				continue
			}
			if _, dup := seen[ct.ID]; dup {
				continue
			}
			seen[ct.ID] = struct{}{}
			all = append(all, ct)
			added++
		}
		if added == 0 {
			c.logger.Warn("Pagination loop detected, stopping", zap.Int("fetched", len(all)))
			break
		}
		c.logger.Info("Fetched contacts so far", zap.Int("fetched", len(all)))

		if len(page.Contacts) < c.cfg.PageSize {
			break
		}

		startAfterID = page.Meta.StartAfterID
		if startAfterID == "" {
			startAfterID = page.Meta.NextPageURL
		}
		startAfter = cursorString(page.Meta.StartAfter)
		if startAfterID == "" && startAfter == "" {
			startAfterID = page.Contacts[len(page.Contacts)-1].ID
			if startAfterID == "" {
				break
			}
		}

		if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Fetched all contacts from location", zap.Int("total", len(all)))
	return all, nil
}

func cursorString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
