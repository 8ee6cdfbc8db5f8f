package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/api/middleware"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/service/auth"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/phrazzld/scribe/internal/stream"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret-that-is-long-enough-to-sign"

type mockTaskService struct {
	CreateTaskFn func(ctx context.Context, userID uuid.UUID, taskType domain.TaskType, params json.RawMessage) (domain.TaskView, error)
	GetTaskFn    func(ctx context.Context, caller service.Caller, id uuid.UUID) (domain.TaskView, error)
	ListTasksFn  func(ctx context.Context, userID uuid.UUID, page store.Page) (service.TaskPage, error)
	DeleteTaskFn func(ctx context.Context, caller service.Caller, id uuid.UUID) error
}

func (m *mockTaskService) CreateTask(ctx context.Context, userID uuid.UUID, taskType domain.TaskType, params json.RawMessage) (domain.TaskView, error) {
	return m.CreateTaskFn(ctx, userID, taskType, params)
}

func (m *mockTaskService) GetTask(ctx context.Context, caller service.Caller, id uuid.UUID) (domain.TaskView, error) {
	return m.GetTaskFn(ctx, caller, id)
}

func (m *mockTaskService) ListTasks(ctx context.Context, userID uuid.UUID, page store.Page) (service.TaskPage, error) {
	return m.ListTasksFn(ctx, userID, page)
}

func (m *mockTaskService) DeleteTask(ctx context.Context, caller service.Caller, id uuid.UUID) error {
	return m.DeleteTaskFn(ctx, caller, id)
}

type mockChatService struct {
	StreamChatFn   func(ctx context.Context, caller service.Caller, req service.ChatRequest, emit stream.EmitFunc) (stream.Result, error)
	CancelStreamFn func(ctx context.Context, caller service.Caller, sessionID string) (stream.CancelOutcome, error)
	StatusFn       func(ctx context.Context, caller service.Caller, sessionID string) (stream.StatusView, error)
	PauseFn        func(ctx context.Context, caller service.Caller, sessionID string) error
	ResumeFn       func(ctx context.Context, caller service.Caller, sessionID string) error
}

func (m *mockChatService) StreamChat(ctx context.Context, caller service.Caller, req service.ChatRequest, emit stream.EmitFunc) (stream.Result, error) {
	return m.StreamChatFn(ctx, caller, req, emit)
}

func (m *mockChatService) CancelStream(ctx context.Context, caller service.Caller, sessionID string) (stream.CancelOutcome, error) {
	return m.CancelStreamFn(ctx, caller, sessionID)
}

func (m *mockChatService) StreamStatus(ctx context.Context, caller service.Caller, sessionID string) (stream.StatusView, error) {
	return m.StatusFn(ctx, caller, sessionID)
}

func (m *mockChatService) PauseStream(ctx context.Context, caller service.Caller, sessionID string) error {
	return m.PauseFn(ctx, caller, sessionID)
}

func (m *mockChatService) ResumeStream(ctx context.Context, caller service.Caller, sessionID string) error {
	return m.ResumeFn(ctx, caller, sessionID)
}

type mockQuota struct {
	CheckFn func(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter) (domain.QuotaAvailability, error)
}

func (m *mockQuota) Check(ctx context.Context, userID uuid.UUID, counter domain.QuotaCounter) (domain.QuotaAvailability, error) {
	return m.CheckFn(ctx, userID, counter)
}

type testServer struct {
	handler http.Handler
	jwt     auth.JWTService
}

func newTestServer(t *testing.T, tasks TaskService, chat ChatService, quota QuotaReader) *testServer {
	t.Helper()

	jwtService, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 5})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	authMiddleware := middleware.NewAuthMiddleware(jwtService)

	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		if tasks != nil {
			NewTaskHandler(tasks, log).Routes(r)
		}
		if chat != nil {
			NewStreamHandler(chat, log).Routes(r)
		}
		if quota != nil {
			NewQuotaHandler(quota).Routes(r)
		}
	})

	return &testServer{handler: r, jwt: jwtService}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(context.Background(), userID, role)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path string, userID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, method, path, userID, "", body)
}

func (s *testServer) doAs(t *testing.T, method, path string, userID uuid.UUID, role, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID, role))
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

type sseFrame struct {
	Event string
	Data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()

	var (
		frames  []sseFrame
		current sseFrame
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.Data))
		case line == "":
			if current.Event != "" {
				frames = append(frames, current)
			}
			current = sseFrame{}
		}
	}
	require.NoError(t, scanner.Err())
	return frames
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}
