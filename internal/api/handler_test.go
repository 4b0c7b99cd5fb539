//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/ashureev/leadflow/internal/fsm"
	"github.com/ashureev/leadflow/internal/fsm/states"
	"github.com/ashureev/leadflow/internal/identity"
	"github.com/ashureev/leadflow/internal/language"
	"github.com/ashureev/leadflow/internal/leads"
	"github.com/ashureev/leadflow/internal/notify"
	"github.com/ashureev/leadflow/internal/orchestrator"
	"github.com/ashureev/leadflow/internal/scheduling"
	"github.com/ashureev/leadflow/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgents map[string]*domain.Agent

func (f fakeAgents) Agent(id string) (*domain.Agent, bool) {
	a, ok := f[id]
	return a, ok
}

func (f fakeAgents) AgentByWidgetToken(token string) (*domain.Agent, bool) {
	for _, a := range f {
		if a.WidgetToken != "" && a.WidgetToken == token {
			return a, true
		}
	}
	return nil, false
}

type harness struct {
	router http.Handler
	store  *store.SQLiteStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLogger(t, nil)
}

func newHarnessWithLogger(t *testing.T, logger *slog.Logger) *harness {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := fsm.NewEngine(nil)
	states.Register(engine, states.Deps{
		Language:  language.NewRules(),
		Leads:     leads.New(st, notify.Nop{}, nil),
		Scheduler: scheduling.New(st, notify.Nop{}),
	})
	orch := orchestrator.New(st, engine, nil)

	disabled := false
	agents := fakeAgents{
		"agent-1": {
			ID:          "agent-1",
			CompanyID:   "acme",
			WidgetToken: "wt-acme",
			HeaderColor: "#112233",
			FSM:         domain.ReferenceFSM(),
			Behavior:    domain.BehaviorConfig{CompanyName: "Acme", EnableCalendar: &disabled},
		},
	}

	h := NewHandler(agents, orch, st, []string{"*"}, logger)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	NewHealthHandler(st).RegisterHealth(r)
	return &harness{router: r, store: st}
}

func (h *harness) do(t *testing.T, method, path, companyID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if companyID != "" {
		req.Header.Set(identity.CompanyHeaderName, companyID)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) start(t *testing.T) startResponse {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/agents/agent-1/conversations", "", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp startResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStartConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.start(t)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "acme", resp.CompanyID)
	assert.Contains(t, resp.Greeting, "Acme")
	assert.Equal(t, domain.StateCollectingName, resp.CurrentState)
	assert.Equal(t, "Acme", resp.AgentConfig.CompanyName)
	assert.Equal(t, "#112233", resp.AgentConfig.HeaderColor)

	conv, err := h.store.GetConversation(context.Background(), resp.ConversationID, "acme")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCollectingName, conv.CurrentState)
	assert.True(t, strings.HasPrefix(conv.ExternalID, "visitor_"))
}

func TestStartConversationLookups(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/widget/wt-acme/conversations", "", `{"externalId":"crm-42"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/widget/unknown/conversations", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/agents/missing/conversations", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/agents/agent-1/conversations", "globex", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "agent of another tenant must be hidden")
}

func TestPostMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conv := h.start(t)
	path := "/api/conversations/" + conv.ConversationID + "/messages"

	rec := h.do(t, http.MethodPost, path, "acme", `{"message":"Maria Silva"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp messageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Contains(t, resp.Response, "Maria Silva")
	require.NotNil(t, resp.Conversation)
	assert.Equal(t, domain.StateCollectingEmail, resp.Conversation.CurrentState)
	assert.Equal(t, domain.ConversationActive, resp.Conversation.Status)

	// Tenant from the body when no header is sent.
	rec = h.do(t, http.MethodPost, path, "", `{"message":"maria@example.com","companyId":"acme"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/conversations/"+conv.ConversationID, "acme", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var full struct {
		ID           string            `json:"id"`
		CurrentState string            `json:"currentState"`
		Messages     []*domain.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&full))
	assert.Equal(t, domain.StateCollectingPhone, full.CurrentState)
	require.Len(t, full.Messages, 5)
	assert.Equal(t, domain.RoleAssistant, full.Messages[0].Role)
	assert.Equal(t, "Maria Silva", full.Messages[1].Content)
}

func TestPostMessageErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conv := h.start(t)
	path := "/api/conversations/" + conv.ConversationID + "/messages"

	tests := []struct {
		name      string
		path      string
		companyID string
		body      string
		want      int
	}{
		{"empty message", path, "acme", `{"message":"  "}`, http.StatusBadRequest},
		{"malformed body", path, "acme", `{"message":`, http.StatusBadRequest},
		{"missing tenant", path, "", `{"message":"oi"}`, http.StatusBadRequest},
		{"other tenant", path, "globex", `{"message":"oi"}`, http.StatusNotFound},
		{"unknown conversation", "/api/conversations/nope/messages", "acme", `{"message":"oi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := h.do(t, http.MethodPost, tt.path, tt.companyID, tt.body)
		assert.Equal(t, tt.want, rec.Code, tt.name)
	}

	rec := h.do(t, http.MethodGet, "/api/conversations/nope", "acme", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatWebSocket(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conv := h.start(t)

	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversations/" + conv.ConversationID + "/ws?company_id=acme"
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()

	read := func() chatFrame {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err)
		var f chatFrame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	}

	ready := read()
	assert.Equal(t, "ready", ready.Type)
	assert.Equal(t, domain.StateCollectingName, ready.State)

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`not json`)))
	assert.Equal(t, "invalid_message", read().Error)

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"type":"message","content":"Maria Silva"}`)))
	got := read()
	assert.Equal(t, "reply", got.Type)
	assert.Contains(t, got.Content, "Maria Silva")
	assert.Equal(t, domain.StateCollectingEmail, got.State)
}

func TestChatWebSocketUnknownConversation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversations/nope/ws?company_id=acme"
	_, resp, err := websocket.Dial(context.Background(), url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestChatWebSocketLogsRemoteIP(t *testing.T) {
	t.Parallel()
	logs := &syncBuffer{}
	h := newHarnessWithLogger(t, slog.New(slog.NewJSONHandler(logs, nil)))
	conv := h.start(t)

	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversations/" + conv.ConversationID + "/ws?company_id=acme"
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()
	_, _, err = ws.Read(ctx)
	require.NoError(t, err)

	assert.Contains(t, logs.String(), `"msg":"chat connection request"`)
	assert.Contains(t, logs.String(), `"ip":"127.0.0.1"`)
}

type downDB struct{}

func (downDB) Ping(context.Context) error { return errors.New("disk I/O error") }

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, serviceName, body["service"])

	r := chi.NewRouter()
	NewHealthHandler(downDB{}).RegisterHealth(r)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
