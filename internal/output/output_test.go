package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codecli/internal/models"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestDryRunMsg(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRunMsg("would delete %s", "session")
	assert.Empty(t, errOut.String())

	u.DryRun = true
	u.DryRunMsg("would delete %s", "session")
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would delete session")
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
}

func TestRoleColor(t *testing.T) {
	assert.Contains(t, RoleColor(models.RoleUser), "you")
	assert.Contains(t, RoleColor(models.RoleAI), "ai")
	assert.Equal(t, "system", RoleColor(models.Role("system")))
}

func TestStateColor(t *testing.T) {
	assert.Contains(t, StateColor(models.MessageStatePending), "pending")
	assert.Contains(t, StateColor(models.MessageStateResolved), "resolved")
	assert.Equal(t, "other", StateColor(models.MessageState("other")))
}

func TestMessage(t *testing.T) {
	u, out, _ := newTestUI()
	u.Message(&models.Message{
		Role:        models.RoleUser,
		Content:     "review this",
		Attachments: []*models.Attachment{{FileName: "main.go", MimeType: "text/x-go", Size: 12}},
	}, true)

	result := out.String()
	assert.Contains(t, result, "review this")
	assert.Contains(t, result, "(sending)")
	assert.Contains(t, result, "main.go")
	assert.Contains(t, result, "12 bytes")
}

func TestTranscript(t *testing.T) {
	u, out, _ := newTestUI()
	u.Transcript(&models.SessionWithMessages{
		Session: models.Session{ID: "s1", Path: "/srv"},
		Messages: []*models.Message{
			{Role: models.RoleUser, Content: "Hello"},
			{Role: models.RoleAI, Content: models.PendingContent},
		},
	})

	result := out.String()
	assert.Contains(t, result, "(untitled)")
	assert.Contains(t, result, "/srv")
	assert.Contains(t, result, "Hello")
	assert.Contains(t, result, models.PendingContent)
	assert.NotContains(t, result, "(sending)")
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Name", "Description"})
	require.NotNil(t, table)

	table.Append([]string{"claude", "Claude Code"})
	table.Append([]string{"gemini", "Gemini CLI"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "claude") || strings.Contains(result, "CLAUDE"),
		"table output should contain profile names")
	assert.True(t, strings.Contains(result, "gemini") || strings.Contains(result, "GEMINI"),
		"table output should contain profile names")
}
