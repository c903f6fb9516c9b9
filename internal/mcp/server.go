package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/codecli/internal/chat"
	"github.com/joescharf/codecli/internal/models"
	"github.com/joescharf/codecli/internal/store"
)

// maxWait caps how long codecli_send_message blocks on a reply.
const maxWait = 120 * time.Second

// Server exposes chat sessions as MCP tools. It shares the database with the
// API server, which receives the callbacks that resolve sent messages.
type Server struct {
	store store.Store
	chat  *chat.Service

	// pollInterval is how often a waiting send re-reads the store.
	pollInterval time.Duration
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, svc *chat.Service) *Server {
	return &Server{
		store:        s,
		chat:         svc,
		pollInterval: 500 * time.Millisecond,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("codecli", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listCLIsTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.getSessionTool())
	srv.AddTool(s.sendMessageTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// codecli_list_clis
func (s *Server) listCLIsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("codecli_list_clis",
		mcp.WithDescription("List registered coding CLI profiles. Returns a JSON array with id, name and description."),
	)
	return tool, s.handleListCLIs
}

func (s *Server) handleListCLIs(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	profiles, err := s.store.ListCLIProfiles(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list cli profiles: %v", err)), nil
	}
	if profiles == nil {
		profiles = []*models.CLIProfile{}
	}
	return jsonResult(profiles)
}

// codecli_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("codecli_list_sessions",
		mcp.WithDescription("List chat sessions, newest first. Returns a JSON array with id, title, cli_id, path and created_at."),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return jsonResult(sessions)
}

// codecli_get_session
func (s *Server) getSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("codecli_get_session",
		mcp.WithDescription("Get a chat session with its ordered messages. An ai message with content \"Thinking...\" is still waiting on the workflow engine."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	)
	return tool, s.handleGetSession
}

type messageOut struct {
	ID          string              `json:"id"`
	Role        models.Role         `json:"role"`
	Content     string              `json:"content"`
	State       models.MessageState `json:"state"`
	CreatedAt   time.Time           `json:"created_at"`
	Attachments []string            `json:"attachments,omitempty"`
}

type sessionOut struct {
	*models.Session
	Pending  bool         `json:"pending"`
	Messages []messageOut `json:"messages"`
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if chat.IsNotFound(err) {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get session: %v", err)), nil
	}
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list messages: %v", err)), nil
	}

	out := sessionOut{Session: sess, Pending: models.HasPending(msgs), Messages: make([]messageOut, len(msgs))}
	for i, m := range msgs {
		mo := messageOut{ID: m.ID, Role: m.Role, Content: m.Content, State: m.State(), CreatedAt: m.CreatedAt}
		for _, a := range m.Attachments {
			mo.Attachments = append(mo.Attachments, a.FileName)
		}
		out.Messages[i] = mo
	}
	return jsonResult(out)
}

// codecli_send_message
func (s *Server) sendMessageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("codecli_send_message",
		mcp.WithDescription("Send a message to a coding CLI through the workflow engine. Without session_id a new session is created. The reply arrives asynchronously; set wait_seconds to block until it does."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("session_id", mcp.Description("Existing session ID; omit to start a new session")),
		mcp.WithString("cli", mcp.Description("CLI profile name or ID for a new session")),
		mcp.WithString("path", mcp.Description("Working directory for a new session")),
		mcp.WithNumber("wait_seconds", mcp.Description("Seconds to wait for the reply (0 returns immediately, max 120)")),
	)
	return tool, s.handleSendMessage
}

type sendOut struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Reply     string `json:"reply,omitempty"`
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError("content is required"), nil
	}

	in := chat.SendInput{
		SessionID: request.GetString("session_id", ""),
		Path:      request.GetString("path", ""),
		Content:   content,
	}
	if ref := request.GetString("cli", ""); ref != "" && in.SessionID == "" {
		cli, err := s.resolveCLI(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		in.CLIID = cli.ID
	}

	res, err := s.chat.Send(ctx, in)
	switch {
	case errors.Is(err, chat.ErrPendingReply):
		return mcp.NewToolResultError("a reply is still pending for this session; wait for it before sending again"), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
	}

	out := sendOut{SessionID: res.Session.ID, MessageID: res.PendingMessage.ID, Status: string(models.MessageStatePending)}

	wait := time.Duration(request.GetInt("wait_seconds", 0)) * time.Second
	if wait > maxWait {
		wait = maxWait
	}
	if wait > 0 {
		if m := s.awaitReply(ctx, res.PendingMessage.ID, wait); m != nil {
			out.Status = string(models.MessageStateResolved)
			out.Reply = m.Content
		}
	}
	return jsonResult(out)
}

// awaitReply re-reads the store until the message is resolved or wait elapses.
func (s *Server) awaitReply(ctx context.Context, messageID string, wait time.Duration) *models.Message {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		m, err := s.store.GetMessage(ctx, messageID)
		if err == nil && !m.IsPending() {
			return m
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// resolveCLI finds a cli profile by id or name.
func (s *Server) resolveCLI(ctx context.Context, ref string) (*models.CLIProfile, error) {
	if p, err := s.store.GetCLIProfile(ctx, ref); err == nil {
		return p, nil
	}
	profiles, err := s.store.ListCLIProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cli profiles: %w", err)
	}
	for _, p := range profiles {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, fmt.Errorf("cli profile not found: %s", ref)
}
