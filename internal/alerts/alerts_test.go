package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nshruti113/traffic-sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) SendAlert(ctx context.Context, title, message string, severity models.Severity) error {
	return m.Called(ctx, title, message, severity).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishAlert(ctx context.Context, alert models.Alert) error {
	return m.Called(ctx, alert).Error(0)
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	ok := new(MockAlerter)
	failing := new(MockAlerter)
	ok.On("SendAlert", ctx, "title", "msg", models.SeverityHigh).Return(nil)
	failing.On("SendAlert", ctx, "title", "msg", models.SeverityHigh).Return(errors.New("down"))

	err := Multi{failing, ok}.SendAlert(ctx, "title", "msg", models.SeverityHigh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	ok.AssertExpectations(t)
	failing.AssertExpectations(t)

	assert.NoError(t, Multi{}.SendAlert(ctx, "title", "msg", models.SeverityLow))
}

func TestRedisAlerter_Publishes(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishAlert", mock.Anything, mock.MatchedBy(func(a models.Alert) bool {
		return a.Title == "Blocked" && a.Severity == models.SeverityCritical && a.ID != ""
	})).Return(nil).Once()

	require.NoError(t, NewRedisAlerter(pub).SendAlert(context.Background(), "Blocked", "203.0.113.1", models.SeverityCritical))
	pub.AssertExpectations(t)
}

func TestWebhook_PostsJSON(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).SendAlert(context.Background(), "Port scan", "from 10.0.0.5", models.SeverityHigh)
	require.NoError(t, err)
	assert.Equal(t, "Port scan", got.Alert.Title)
	assert.Equal(t, models.SeverityHigh, got.Alert.Severity)
	assert.Contains(t, got.Content, "[HIGH] **Port scan**")
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).SendAlert(context.Background(), "t", "m", models.SeverityLow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhook_DisabledWithoutURL(t *testing.T) {
	assert.NoError(t, NewWebhook("").SendAlert(context.Background(), "t", "m", models.SeverityLow))
}

func TestHub_BroadcastsToClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.SendAlert(context.Background(), "DDoS", "flood", models.SeverityCritical))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string       `json:"type"`
		Payload models.Alert `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "DDoS", msg.Payload.Title)
	assert.Equal(t, models.SeverityCritical, msg.Payload.Severity)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SlowClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	// never reads
	stalled, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer stalled.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	payload := strings.Repeat("x", 64*1024)
	start := time.Now()
	for i := 0; i < 4*sendBuffer; i++ {
		hub.Broadcast("anomaly", payload)
	}
	assert.Less(t, time.Since(start), writeWait)

	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*writeWait, 20*time.Millisecond)
}
