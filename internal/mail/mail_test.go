package mail

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

func TestSendGridProviderSends(t *testing.T) {
	var got sendGridRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewSendGridProvider(srv.URL, "sg-key", "lab@example.com", zap.NewNop())
	err := p.Send(context.Background(), RequestAccepted("client@example.com", "SOL-202403-0001", "soil"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sg-key", auth)
	assert.Equal(t, "lab@example.com", got.From.Email)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "client@example.com", got.Personalizations[0].To[0].Email)
	assert.Contains(t, got.Subject, "SOL-202403-0001")
}

func TestSendGridProviderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	p := NewSendGridProvider(srv.URL, "wrong", "lab@example.com", nil)
	err := p.Send(context.Background(), PasswordReset("a@example.com", "tok", 30))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestLogProvider(t *testing.T) {
	assert.NoError(t, LogProvider{}.Send(context.Background(), Message{To: "x"}))
	assert.NoError(t, LogProvider{From: "a", Logger: zap.NewNop()}.Send(context.Background(), Message{To: "x"}))
}
