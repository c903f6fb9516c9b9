package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codecli/internal/chat"
	"github.com/joescharf/codecli/internal/models"
	"github.com/joescharf/codecli/internal/store"
	"github.com/joescharf/codecli/internal/workflow"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// acceptingEngine takes every invocation and leaves the reply pending.
type acceptingEngine struct {
	mu    sync.Mutex
	calls []*workflow.Invocation
}

func (e *acceptingEngine) Configured() bool { return true }

func (e *acceptingEngine) Invoke(_ context.Context, inv *workflow.Invocation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, inv)
	return nil
}

func (e *acceptingEngine) last() *workflow.Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1]
}

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *chat.Service, *acceptingEngine) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	eng := &acceptingEngine{}
	svc := chat.NewService(s, eng, chat.Config{PublicURL: "http://localhost:8002", DefaultPath: "/home/dev"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		svc.Wait()
		s.Close()
	})

	srv := NewServer(s, svc)
	srv.pollInterval = 5 * time.Millisecond
	return srv, s, svc, eng
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ---------------------------------------------------------------------------
// Tool registration
// ---------------------------------------------------------------------------

func TestMCPServer_RegistersTools(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	// Call tools/list via HandleMessage to verify registration.
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(context.Background(), reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}
	for _, name := range []string{"codecli_list_clis", "codecli_list_sessions", "codecli_get_session", "codecli_send_message"} {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

// ---------------------------------------------------------------------------
// codecli_list_clis
// ---------------------------------------------------------------------------

func TestListCLIs(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleListCLIs(ctx, callToolReq("codecli_list_clis", nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", resultText(t, result))

	require.NoError(t, s.CreateCLIProfile(ctx, &models.CLIProfile{Name: "claude", Description: "Claude Code"}))

	result, err = srv.handleListCLIs(ctx, callToolReq("codecli_list_clis", nil))
	require.NoError(t, err)
	var profiles []models.CLIProfile
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &profiles))
	require.Len(t, profiles, 1)
	assert.Equal(t, "claude", profiles[0].Name)
}

// ---------------------------------------------------------------------------
// codecli_send_message / codecli_get_session
// ---------------------------------------------------------------------------

func TestSendMessage_NewSessionThenGet(t *testing.T) {
	srv, s, svc, eng := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.CreateCLIProfile(ctx, &models.CLIProfile{Name: "claude"}))

	result, err := srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{
		"content": "Hello",
		"cli":     "claude",
		"path":    "/srv/app",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out sendOut
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, "pending", out.Status)
	assert.NotEmpty(t, out.SessionID)
	svc.Wait()

	inv := eng.last()
	assert.Equal(t, "claude", inv.CLI)
	assert.Equal(t, "/srv/app", inv.Path)
	assert.Equal(t, out.MessageID, inv.MessageID)

	result, err = srv.handleGetSession(ctx, callToolReq("codecli_get_session", map[string]any{"session_id": out.SessionID}))
	require.NoError(t, err)
	var got struct {
		ID       string       `json:"id"`
		Pending  bool         `json:"pending"`
		Messages []messageOut `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &got))
	assert.Equal(t, out.SessionID, got.ID)
	assert.True(t, got.Pending)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.MessageStatePending, got.Messages[1].State)

	result, err = srv.handleListSessions(ctx, callToolReq("codecli_list_sessions", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), out.SessionID)
}

func TestSendMessage_WaitsForReply(t *testing.T) {
	srv, _, svc, _ := newTestServer(t)
	ctx := context.Background()

	done := make(chan *mcpgo.CallToolResult, 1)
	go func() {
		result, _ := srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{
			"content":      "Hello",
			"wait_seconds": 5,
		}))
		done <- result
	}()

	// Answer as the API server would once the engine calls back.
	var sessionID string
	require.Eventually(t, func() bool {
		sessions, err := srv.store.ListSessions(ctx)
		if err != nil || len(sessions) == 0 {
			return false
		}
		sessionID = sessions[0].ID
		return true
	}, 2*time.Second, 5*time.Millisecond)

	outcome, err := svc.HandleCallback(ctx, sessionID, &workflow.Callback{Output: "Hi there"})
	require.NoError(t, err)
	require.Equal(t, chat.OutcomeResolved, outcome)

	result := <-done
	var out sendOut
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
	assert.Equal(t, "resolved", out.Status)
	assert.Equal(t, "Hi there", out.Reply)
}

func TestSendMessage_Errors(t *testing.T) {
	srv, _, svc, _ := newTestServer(t)
	ctx := context.Background()

	t.Run("missing content", func(t *testing.T) {
		result, err := srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("unknown cli", func(t *testing.T) {
		result, err := srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{"content": "hi", "cli": "nope"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "cli profile not found")
	})

	t.Run("unknown session", func(t *testing.T) {
		result, err := srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{"content": "hi", "session_id": "missing"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("pending reply", func(t *testing.T) {
		result, err := srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{"content": "first"}))
		require.NoError(t, err)
		var out sendOut
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &out))
		svc.Wait()

		result, err = srv.handleSendMessage(ctx, callToolReq("codecli_send_message", map[string]any{"content": "second", "session_id": out.SessionID}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "still pending")
	})
}

func TestGetSession_Errors(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleGetSession(ctx, callToolReq("codecli_get_session", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.handleGetSession(ctx, callToolReq("codecli_get_session", map[string]any{"session_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "session not found")
}

// failingSessionStore breaks session reads with a non-lookup error.
type failingSessionStore struct {
	store.Store
}

func (failingSessionStore) GetSession(context.Context, string) (*models.Session, error) {
	return nil, errors.New("database is locked")
}

func TestGetSession_StoreFailureIsNotReportedAsMissing(t *testing.T) {
	srv, s, _, _ := newTestServer(t)
	srv.store = failingSessionStore{Store: s}

	result, err := srv.handleGetSession(context.Background(), callToolReq("codecli_get_session", map[string]any{"session_id": "01ANY"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	text := resultText(t, result)
	assert.NotContains(t, text, "session not found")
	assert.Contains(t, text, "database is locked")
}
