package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformtesting "rizo-card-bot/internal/platform/testing"
	"rizo-card-bot/internal/transport/telegram"
)

const testToken = "123456:test-token"

type capturingHandler struct {
	got chan *telegram.Update
}

func (h *capturingHandler) ProcessUpdate(_ context.Context, upd *telegram.Update) {
	h.got <- upd
}

type stubStatus struct{}

func (stubStatus) Status() map[string]interface{} {
	return map[string]interface{}{"pipeline": map[string]int{"slots": 3}}
}

func newTestRouter(t *testing.T) (*Router, *capturingHandler) {
	t.Helper()

	handler := &capturingHandler{got: make(chan *telegram.Update, 1)}
	router, err := Build(Options{
		BotToken: testToken,
		Logger:   platformtesting.SetupTestLogger(t),
		Handler:  handler,
		Status:   stubStatus{},
	})
	require.NoError(t, err)
	return router, handler
}

func TestBuild_RequiresTokenAndHandler(t *testing.T) {
	_, err := Build(Options{})
	require.Error(t, err)
}

func TestRootIsLive(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	router.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "RIZO Card Bot")
}

func TestWebhookRejectsWrongToken(t *testing.T) {
	router, handler := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/wrong-token",
		strings.NewReader(`{"update_id": 1}`))
	req.Header.Set("Content-Type", "application/json")
	router.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	select {
	case <-handler.got:
		t.Fatal("handler must not run for a bad token")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+testToken,
		strings.NewReader(`{"update_id": `))
	req.Header.Set("Content-Type", "application/json")
	router.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookDispatchesUpdate(t *testing.T) {
	router, handler := newTestRouter(t)

	body := `{"update_id": 7, "message": {"message_id": 1, "chat": {"id": 42}, "text": "/generate"}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+testToken, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)

	select {
	case upd := <-handler.got:
		require.NotNil(t, upd.Message)
		assert.Equal(t, int64(7), upd.UpdateID)
		assert.Equal(t, int64(42), upd.Message.Chat.ID)
	case <-time.After(time.Second):
		t.Fatal("update never reached the handler")
	}
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	router.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"slots":3`)
}
