package ghl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ltvsync/internal/cache"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:    srv.URL,
		APIKey:     "ghl-key",
		LocationID: "loc-1",
		PageSize:   3,
	}, cache.NewMemory(), zap.NewNop())
	c.sleep = noSleep
	c.retry.Sleep = noSleep
	return c
}

func contactsJSON(ids ...string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		out = append(out, map[string]interface{}{"id": id, "email": id + "@example.com"})
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetchAllContacts_FollowsMetaCursor(t *testing.T) {
	var queries []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/", r.URL.Path)
		assert.Equal(t, "Bearer ghl-key", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Version"))
		assert.Equal(t, "loc-1", r.URL.Query().Get("locationId"))
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		queries = append(queries, r.URL.Query().Get("startAfterId")+"|"+r.URL.Query().Get("startAfter"))

		switch r.URL.Query().Get("startAfterId") {
		case "":
			writeJSON(w, map[string]interface{}{
				"contacts": contactsJSON("a", "b", "c"),
				"meta":     map[string]interface{}{"startAfterId": "c", "startAfter": 1700000000000},
			})
		case "c":
			writeJSON(w, map[string]interface{}{"contacts": contactsJSON("d")})
		}
	})

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 4)
	assert.Equal(t, "d", contacts[3].ID)
	assert.Equal(t, "d@example.com", contacts[3].Email)
	assert.Equal(t, []string{"|", "c|1700000000000"}, queries)
}

func TestFetchAllContacts_FallsBackToLastID(t *testing.T) {
	var cursors []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("startAfterId")
		cursors = append(cursors, after)
		switch after {
		case "":
			writeJSON(w, map[string]interface{}{"contacts": contactsJSON("a", "b", "c")})
		case "c":
			writeJSON(w, map[string]interface{}{"contacts": contactsJSON("d", "e", "f")})
		default:
			writeJSON(w, map[string]interface{}{"contacts": []interface{}{}})
		}
	})

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err)
	assert.Len(t, contacts, 6)
	assert.Equal(t, []string{"", "c", "f"}, cursors)
}

func TestFetchAllContacts_StopsOnPaginationLoop(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, map[string]interface{}{"contacts": contactsJSON("a", "b", "c")})
	})

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err)
	assert.Len(t, contacts, 3)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFetchAllContacts_DedupesWithinAndAcrossPages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("startAfterId") {
		case "":
			writeJSON(w, map[string]interface{}{"contacts": contactsJSON("a", "a", "b")})
		default:
			writeJSON(w, map[string]interface{}{"contacts": contactsJSON("b", "c")})
		}
	})

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(contacts))
	for i, ct := range contacts {
		ids[i] = ct.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestFetchAllContacts_RetriesRateLimit(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]interface{}{"contacts": contactsJSON("a")})
	})

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchAllContacts_RateLimitExhaustedSurfacesStatus(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	var delays []time.Duration
	c.retry.Sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := c.FetchAllContacts(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestFetchAllContacts_ErrorStatusNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"message":"invalid token"}`)
	})

	_, err := c.FetchAllContacts(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "invalid token")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchAllContacts_ParsesCustomFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"contacts":[{"id":"a","firstName":"Ann","customFields":[{"id":"f1","value":"12.5"},{"id":"f2","value":7},{"id":"f3","value":null}]}]}`)
	})

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	cf := contacts[0].CustomFields
	require.Len(t, cf, 3)
	assert.Equal(t, "12.5", cf[0].Value)
	assert.Equal(t, 7.0, cf[1].Value)
	assert.Nil(t, cf[2].Value)
	assert.Equal(t, "Ann", contacts[0].FirstName)
}

func TestFetchFieldMetadata_Cached(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/locations/loc-1/customFields", r.URL.Path)
		writeJSON(w, map[string]interface{}{
			"customFields": []map[string]string{
				{"id": "uuid-ltv", "fieldKey": "contact.ltv", "name": "LTV"},
			},
		})
	})

	for i := 0; i < 3; i++ {
		fields, err := c.FetchFieldMetadata(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []Field{{ID: "uuid-ltv", FieldKey: "contact.ltv", Name: "LTV"}}, fields)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFetchFieldMetadata_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchFieldMetadata(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestNew_DefaultTimeouts(t *testing.T) {
	c := New(Config{BaseURL: "http://localhost"}, nil, zap.NewNop())
	assert.Equal(t, 30*time.Second, c.cfg.FieldsTimeout)
	assert.Equal(t, 60*time.Second, c.cfg.PageTimeout)
}

func TestClient_SlowPageOutlivesShorterDeadlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		if r.URL.Path == "/contacts/" {
			writeJSON(w, map[string]interface{}{"contacts": contactsJSON("a")})
			return
		}
		writeJSON(w, map[string]interface{}{"customFields": []map[string]string{}})
	}))
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:       srv.URL,
		LocationID:    "loc-1",
		FieldsTimeout: 50 * time.Millisecond,
		PageTimeout:   2 * time.Second,
	}, cache.NewMemory(), zap.NewNop())
	c.sleep = noSleep
	c.retry.Sleep = noSleep

	contacts, err := c.FetchAllContacts(context.Background())
	require.NoError(t, err, "a page slower than the metadata deadline must still complete")
	require.Len(t, contacts, 1)

	_, err = c.FetchFieldMetadata(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch custom fields")
}
