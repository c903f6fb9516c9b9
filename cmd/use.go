package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/codecli/internal/client"
)

var (
	useCLI     string
	useSession string
	usePath    string
	useServer  string
	useNew     bool
)

var useCmd = &cobra.Command{
	Use:   "use",
	Short: "Select the server, cli profile, session and path for chat",
	Long: `Select what subsequent 'codecli chat' invocations act on.

The selection is saved in <state_dir>/state.yaml. Without flags the current
selection is shown. --new starts a fresh conversation; the session is
created by the server on the next send.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return useRun(cmd.Context())
	},
}

func init() {
	useCmd.Flags().StringVar(&useCLI, "cli", "", "CLI profile id or name (\"none\" clears it)")
	useCmd.Flags().StringVar(&useSession, "session", "", "Session id to continue")
	useCmd.Flags().StringVar(&usePath, "path", "", "Working directory for new sessions")
	useCmd.Flags().StringVar(&useServer, "server", "", "API server URL")
	useCmd.Flags().BoolVar(&useNew, "new", false, "Start a new conversation")
	rootCmd.AddCommand(useCmd)
}

func stateStore() client.StateStore {
	return client.NewFileStateStore(viper.GetString("state_dir"))
}

func loadState() (*client.State, error) {
	st, err := stateStore().Load()
	if err != nil {
		return nil, fmt.Errorf("load client state: %w", err)
	}
	return st, nil
}

func saveState(st *client.State) error {
	if err := stateStore().Save(st); err != nil {
		return fmt.Errorf("save client state: %w", err)
	}
	return nil
}

// apiClient talks to the server selected in st, falling back to server.url.
func apiClient(st *client.State) *client.Client {
	if st != nil && st.ServerURL != "" {
		return client.New(st.ServerURL)
	}
	return client.New(viper.GetString("server.url"))
}

func useRun(ctx context.Context) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	if useServer == "" && useCLI == "" && useSession == "" && usePath == "" && !useNew {
		return showState(st)
	}

	if useServer != "" {
		st.ServerURL = useServer
	}
	c := apiClient(st)

	if useCLI == "none" {
		st.CLIID = ""
	} else if useCLI != "" {
		p, err := c.ResolveCLI(ctx, useCLI)
		if err != nil {
			return fmt.Errorf("cli %q: %w", useCLI, err)
		}
		st.CLIID = p.ID
	}
	if usePath != "" {
		abs, err := filepath.Abs(usePath)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		st.Path = abs
	}
	if useNew {
		st.NewConversation()
	}
	if useSession != "" {
		sess, err := c.GetSession(ctx, useSession)
		if err != nil {
			return fmt.Errorf("session %q: %w", useSession, err)
		}
		st.SessionID = sess.ID
	}

	if dryRun {
		ui.DryRunMsg("Would save selection to %s", viper.GetString("state_dir"))
		return showState(st)
	}
	if err := saveState(st); err != nil {
		return err
	}
	ui.Success("Selection saved")
	return showState(st)
}

func useShowRun() error {
	st, err := loadState()
	if err != nil {
		return err
	}
	return showState(st)
}

func showState(st *client.State) error {
	server := st.ServerURL
	if server == "" {
		server = viper.GetString("server.url")
	}
	fmt.Fprintf(ui.Out, "  %-9s %s\n", "server", server)
	fmt.Fprintf(ui.Out, "  %-9s %s\n", "cli", orNone(st.CLIID))
	fmt.Fprintf(ui.Out, "  %-9s %s\n", "session", orNone(st.SessionID))
	fmt.Fprintf(ui.Out, "  %-9s %s\n", "path", orNone(st.Path))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
