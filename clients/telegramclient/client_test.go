package telegramclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosync/logging"
)

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse string
		status         int
		wantErr        string
	}{
		{
			name:           "success",
			serverResponse: `{"ok":true,"result":{"message_id":1}}`,
			status:         http.StatusOK,
		},
		{
			name:           "api error",
			serverResponse: `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			status:         http.StatusBadRequest,
			wantErr:        "chat not found",
		},
		{
			name:           "http error",
			serverResponse: "internal server error",
			status:         http.StatusInternalServerError,
			wantErr:        "unexpected status code: 500",
		},
		{
			name:           "invalid json",
			serverResponse: "ok",
			status:         http.StatusOK,
			wantErr:        "failed to unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got sendMessageRequest
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/bot123:abc/sendMessage", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.serverResponse))
			}))
			defer ts.Close()

			client := New("123:abc", "-100200", WithBaseURL(ts.URL))
			err := client.SendMessage(context.Background(), "<b>alert</b>", ParseModeHTML)

			assert.Equal(t, sendMessageRequest{ChatID: "-100200", Text: "<b>alert</b>", ParseMode: "HTML"}, got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSendMessage_ErrorHidesToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	ts.Close()

	client := New("123:secret", "-100200", WithBaseURL(ts.URL))
	err := client.SendMessage(context.Background(), "text", "")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestFormatter(t *testing.T) {
	rec := logging.Record{
		Time:     time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC),
		Severity: logging.SeverityAlert,
		Message:  "unhandled error, sync stopped",
		Channel:  "import_prices",
		Context:  map[string]any{"exception": "*url.Error", "line": 42},
	}

	f := Formatter{
		Title:    `shop, prod: sync "import_prices" error`,
		SiteName: "shop",
		Env:      "prod",
		Hostname: "worker-1",
	}
	out := f.Format(rec)

	assert.True(t, strings.HasPrefix(out, "<b>shop, prod: sync &#34;import_prices&#34; error</b>\n"))
	assert.Contains(t, out, "<b>Site name:</b> shop\n")
	assert.Contains(t, out, "<b>Message:</b> unhandled error, sync stopped\n")
	assert.Contains(t, out, "<b>Channel:</b> import_prices\n")
	assert.Contains(t, out, "<b>Environment:</b> prod\n")
	assert.Contains(t, out, "<b>Server:</b> worker-1\n")
	assert.Contains(t, out, "<b>Time:</b> 2024-03-01 02:00:00\n")
	assert.NotContains(t, out, "Sandbox")
	assert.Contains(t, out, "\n[context]\n{\n  &#34;exception&#34;: &#34;*url.Error&#34;,\n  &#34;line&#34;: 42\n}")

	t.Run("sandbox and default env", func(t *testing.T) {
		out := Formatter{Sandbox: "eu-2"}.Format(logging.Record{Time: rec.Time, Message: "m"})
		assert.Contains(t, out, "<b>Sandbox:</b> eu-2\n")
		assert.Contains(t, out, "<b>Environment:</b> production\n")
		assert.NotContains(t, out, "[context]")
	})
}
