package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTelegram(t *testing.T, handler http.HandlerFunc) *Telegram {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tg, err := NewTelegram("123:abc", -100, srv.URL, zap.NewNop())
	require.NoError(t, err)
	return tg
}

func TestTelegram_RunSucceeded(t *testing.T) {
	var params map[string]string
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"chat":{"id":-100}}}`))
	})

	require.NoError(t, tg.RunSucceeded(context.Background(), successRun()))
	assert.Equal(t, "-100", params["chat_id"])
	assert.Equal(t, "HTML", params["parse_mode"])
	assert.Contains(t, params["text"], "sync #1 succeeded")
	assert.Contains(t, params["text"], "3 processed, 2 matched (66.7%)")
}

func TestTelegram_APIError(t *testing.T) {
	tg := newTestTelegram(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	})

	err := tg.RunFailed(context.Background(), failedRun(), "boom")
	assert.ErrorContains(t, err, "chat not found")
}

func TestFailureText_EscapesError(t *testing.T) {
	text := FailureText(failedRun(), "status <401>")
	assert.Contains(t, text, "status &lt;401&gt;")
	assert.Contains(t, text, "Started: 2024-05-01 02:00:00 UTC")
}
