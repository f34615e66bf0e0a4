package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/manthanshiroya/alert-bot-project-api-sub003/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		Token:   "TOKEN",
		BaseURL: server.URL,
		Timeout: time.Second,
	})
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{Token: "abc"})

	assert.NotNil(t, client)
	assert.Equal(t, "telegram", client.Name())
	assert.Equal(t, "https://api.telegram.org", client.baseURL)
}

func TestSendMessage(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	})

	id, err := client.SendMessage(context.Background(), "1001", "<b>hi</b>", channel.DefaultSendOptions())
	require.NoError(t, err)
	assert.Equal(t, "42", id)
	assert.Equal(t, "1001", got["chat_id"])
	assert.Equal(t, "<b>hi</b>", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
}

func TestEditMessage(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/editMessageText", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
	})

	err := client.EditMessage(context.Background(), "1001", "42", "closed", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got["message_id"])
	_, hasParseMode := got["parse_mode"]
	assert.False(t, hasParseMode)

	err = client.EditMessage(context.Background(), "1001", "not-a-number", "closed", nil)
	assert.True(t, errors.Is(err, channel.ErrRejected))
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{
			name:   "bot blocked by user",
			status: http.StatusForbidden,
			body:   `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			want:   channel.ErrPermanent,
		},
		{
			name:   "chat not found",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			want:   channel.ErrPermanent,
		},
		{
			name:   "bad markup",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`,
			want:   channel.ErrRejected,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`,
			want:   channel.ErrTransient,
		},
		{
			name:   "gateway error without json",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			want:   channel.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.SendMessage(context.Background(), "1001", "hi", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSendMessageTimeoutIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.SendMessage(ctx, "1001", "hi", nil)
	require.Error(t, err)
	assert.True(t, channel.IsTemporaryError(err))
	assert.False(t, channel.IsPermanentError(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, channel.ClassPermanent, Classify(403, "Forbidden: user is deactivated"))
	assert.Equal(t, channel.ClassPermanent, Classify(400, "Bad Request: PEER_ID_INVALID"))
	assert.Equal(t, channel.ClassTransient, Classify(500, "Internal Server Error"))
	assert.Equal(t, channel.ClassTransient, Classify(429, "Too Many Requests"))
	assert.Equal(t, channel.ClassRejected, Classify(401, "Unauthorized"))
}
