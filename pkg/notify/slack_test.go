package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovista/agromonitor/pkg/model"
	"github.com/agrovista/agromonitor/pkg/notify"
)

func TestSlackNotifier_Name(t *testing.T) {
	n := notify.NewSlackNotifier("https://hooks.slack.com/test", "#test")
	assert.Equal(t, "slack", n.Name())
}

func TestSlackNotifier_Send(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notify.NewSlackNotifier(server.URL, "#agro-alerts")
	err := n.Send(context.Background(), testEvent())
	require.NoError(t, err)
	assert.Equal(t, "#agro-alerts", received["channel"])

	attachments, ok := received["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	attachment := attachments[0].(map[string]any)
	assert.Contains(t, attachment["title"], "agotamiento")
}

func TestSlackNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := notify.NewSlackNotifier(server.URL, "#test")
	err := n.Send(context.Background(), testEvent())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSlackNotifier_SeverityColors(t *testing.T) {
	for _, severity := range []model.Severity{
		model.SeverityLow,
		model.SeverityMedium,
		model.SeverityHigh,
		model.SeverityCritical,
	} {
		t.Run(string(severity), func(t *testing.T) {
			var attachment map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				attachment = payload["attachments"].([]any)[0].(map[string]any)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			event := testEvent()
			event.Alert.Severity = severity

			n := notify.NewSlackNotifier(server.URL, "#test")
			require.NoError(t, n.Send(context.Background(), event))
			assert.NotEmpty(t, attachment["color"])
		})
	}
}
