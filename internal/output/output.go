package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/codecli/internal/models"
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// RoleColor returns the role label colored by author.
func RoleColor(role models.Role) string {
	switch role {
	case models.RoleUser:
		return cyan("you")
	case models.RoleAI:
		return green("ai")
	default:
		return string(role)
	}
}

// StateColor returns the message state colored for listings.
func StateColor(state models.MessageState) string {
	switch state {
	case models.MessageStatePending:
		return yellow(string(state))
	case models.MessageStateResolved:
		return green(string(state))
	default:
		return string(state)
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Message prints one conversation line. Pending placeholders render in
// yellow; provisional lines are marked until the server confirms them.
func (u *UI) Message(m *models.Message, provisional bool) {
	content := m.Content
	if m.IsPending() {
		content = yellow(content)
	}
	stamp := ""
	if !m.CreatedAt.IsZero() {
		stamp = faint(m.CreatedAt.Local().Format(time.Kitchen)) + " "
	}
	mark := ""
	if provisional {
		mark = faint(" (sending)")
	}
	fmt.Fprintf(u.Out, "%s%s%s: %s\n", stamp, RoleColor(m.Role), mark, content)
	for _, a := range m.Attachments {
		fmt.Fprintf(u.Out, "    %s %s %s\n", faint("└"), a.FileName, faint(fmt.Sprintf("(%s, %d bytes)", a.MimeType, a.Size)))
	}
}

// Transcript prints a session header followed by its messages.
func (u *UI) Transcript(s *models.SessionWithMessages) {
	title := s.Title
	if strings.TrimSpace(title) == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(u.Out, "%s  %s  %s\n", cyan(title), faint(s.ID), faint(s.Path))
	for _, m := range s.Messages {
		u.Message(m, false)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
