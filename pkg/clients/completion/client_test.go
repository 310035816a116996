package completion

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opsdesk/stepflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Complete(t *testing.T) {
	var got request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Acme looks good"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", slog.New(slog.DiscardHandler))

	text, err := client.Complete(context.Background(), "Summarise Acme", []protocol.Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "Acme looks good", text)
	assert.Equal(t, "Summarise Acme", got.Prompt)
	require.Len(t, got.History, 1)
	assert.Equal(t, "user", got.History[0].Role)
}

func TestHTTPClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantErr: "completion service returned 502: upstream down"},
		{name: "invalid json", status: http.StatusOK, body: "{", wantErr: "failed to decode completion response"},
		{name: "empty text", status: http.StatusOK, body: `{"text":""}`, wantErr: ErrEmptyCompletion.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPClient(server.URL, slog.New(slog.DiscardHandler)).Complete(context.Background(), "p", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
