package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joescharf/codecli/internal/client"
)

var sessionTitle string

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Manage chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun(cmd.Context())
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun(cmd.Context())
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print a session transcript (default: current session)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(cmd.Context(), args)
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete a session with its messages and attachments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRmRun(cmd.Context(), args[0])
	},
}

var sessionPathCmd = &cobra.Command{
	Use:   "path <session-id> <dir>",
	Short: "Change the working directory of a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionPathRun(cmd.Context(), args[0], args[1])
	},
}

var sessionRenameCmd = &cobra.Command{
	Use:   "rename <session-id>",
	Short: "Change the title of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionRenameRun(cmd.Context(), args[0])
	},
}

func init() {
	sessionRenameCmd.Flags().StringVarP(&sessionTitle, "title", "t", "", "New title")
	_ = sessionRenameCmd.MarkFlagRequired("title")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionRmCmd)
	sessionCmd.AddCommand(sessionPathCmd)
	sessionCmd.AddCommand(sessionRenameCmd)
	rootCmd.AddCommand(sessionCmd)
}

func sessionListRun(ctx context.Context) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	sessions, err := apiClient(st).ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		ui.Info("No sessions. Start one with: codecli chat \"<message>\"")
		return nil
	}

	table := ui.Table([]string{"", "ID", "TITLE", "PATH", "CREATED"})
	for _, s := range sessions {
		mark := ""
		if s.ID == st.SessionID {
			mark = "*"
		}
		_ = table.Append([]string{mark, s.ID, s.Title, s.Path, s.CreatedAt.Local().Format("2006-01-02 15:04")})
	}
	return table.Render()
}

func sessionShowRun(ctx context.Context, args []string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	id := st.SessionID
	if len(args) == 1 {
		id = args[0]
	}
	if id == "" {
		return fmt.Errorf("no session selected; pass an id or run 'codecli use --session <id>'")
	}
	detail, err := apiClient(st).GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	ui.Transcript(detail)
	return nil
}

func sessionRmRun(ctx context.Context, id string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete session %s", id)
		return nil
	}
	if err := apiClient(st).DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if st.SessionID == id {
		st.NewConversation()
		if err := saveState(st); err != nil {
			return err
		}
	}
	ui.Success("Deleted session %s", id)
	return nil
}

func sessionPathRun(ctx context.Context, id, dir string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if dryRun {
		ui.DryRunMsg("Would set path of session %s to %s", id, abs)
		return nil
	}
	sess, err := apiClient(st).UpdateSession(ctx, id, client.SessionPatch{Path: &abs})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	ui.Success("Session %s now runs in %s", sess.ID, sess.Path)
	return nil
}

func sessionRenameRun(ctx context.Context, id string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would rename session %s to %q", id, sessionTitle)
		return nil
	}
	sess, err := apiClient(st).UpdateSession(ctx, id, client.SessionPatch{Title: &sessionTitle})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	ui.Success("Session %s renamed to %q", sess.ID, sess.Title)
	return nil
}
