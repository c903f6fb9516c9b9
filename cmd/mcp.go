package cmd

import (
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/joescharf/codecli/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

The MCP server shares the database with 'codecli serve', which must be
running to receive the workflow engine's callbacks. Configure in Claude
Code with:

  {
    "mcpServers": {
      "codecli": { "command": "codecli", "args": ["mcp"] }
    }
  }

Available tools: codecli_list_clis, codecli_list_sessions,
codecli_get_session, codecli_send_message`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		// stdout carries the protocol; logs go to stderr.
		svc := newChatService(s, newLogger(os.Stderr))
		err = mcpserver.NewServer(s, svc).ServeStdio(cmd.Context())
		svc.Wait()
		return err
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
