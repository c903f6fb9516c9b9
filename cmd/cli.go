package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cliDescription string

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Manage CLI profiles",
	Long:  "Manage the coding CLIs (claude, gemini, ...) sessions can target.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliListRun(cmd.Context())
	},
}

var cliAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a CLI profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliAddRun(cmd.Context(), args[0])
	},
}

var cliListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List CLI profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliListRun(cmd.Context())
	},
}

var cliRenameCmd = &cobra.Command{
	Use:   "rename <cli> <new-name>",
	Short: "Rename a CLI profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliRenameRun(cmd.Context(), args[0], args[1])
	},
}

var cliRmCmd = &cobra.Command{
	Use:   "rm <cli>",
	Short: "Delete a CLI profile",
	Long:  "Delete a CLI profile. Sessions that used it are kept and fall back to the default CLI.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliRmRun(cmd.Context(), args[0])
	},
}

func init() {
	cliAddCmd.Flags().StringVarP(&cliDescription, "description", "d", "", "Profile description")
	cliRenameCmd.Flags().StringVarP(&cliDescription, "description", "d", "", "New description (kept when empty)")

	cliCmd.AddCommand(cliAddCmd)
	cliCmd.AddCommand(cliListCmd)
	cliCmd.AddCommand(cliRenameCmd)
	cliCmd.AddCommand(cliRmCmd)
	rootCmd.AddCommand(cliCmd)
}

func cliAddRun(ctx context.Context, name string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would create CLI profile %q", name)
		return nil
	}
	p, err := apiClient(st).CreateCLI(ctx, name, cliDescription)
	if err != nil {
		return fmt.Errorf("create cli profile: %w", err)
	}
	ui.Success("Created CLI profile %s (%s)", p.Name, p.ID)
	return nil
}

func cliListRun(ctx context.Context) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	profiles, err := apiClient(st).ListCLIs(ctx)
	if err != nil {
		return fmt.Errorf("list cli profiles: %w", err)
	}
	if len(profiles) == 0 {
		ui.Info("No CLI profiles. Add one with: codecli cli add <name>")
		return nil
	}

	table := ui.Table([]string{"", "ID", "NAME", "DESCRIPTION"})
	for _, p := range profiles {
		mark := ""
		if p.ID == st.CLIID {
			mark = "*"
		}
		_ = table.Append([]string{mark, p.ID, p.Name, p.Description})
	}
	return table.Render()
}

func cliRenameRun(ctx context.Context, ref, newName string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	c := apiClient(st)
	p, err := c.ResolveCLI(ctx, ref)
	if err != nil {
		return fmt.Errorf("cli %q: %w", ref, err)
	}
	desc := p.Description
	if cliDescription != "" {
		desc = cliDescription
	}
	if dryRun {
		ui.DryRunMsg("Would rename CLI profile %s to %q", p.Name, newName)
		return nil
	}
	updated, err := c.UpdateCLI(ctx, p.ID, newName, desc)
	if err != nil {
		return fmt.Errorf("update cli profile: %w", err)
	}
	ui.Success("Renamed %s to %s", p.Name, updated.Name)
	return nil
}

func cliRmRun(ctx context.Context, ref string) error {
	st, err := loadState()
	if err != nil {
		return err
	}
	c := apiClient(st)
	p, err := c.ResolveCLI(ctx, ref)
	if err != nil {
		return fmt.Errorf("cli %q: %w", ref, err)
	}
	if dryRun {
		ui.DryRunMsg("Would delete CLI profile %s (%s)", p.Name, p.ID)
		return nil
	}
	if err := c.DeleteCLI(ctx, p.ID); err != nil {
		return fmt.Errorf("delete cli profile: %w", err)
	}
	if st.CLIID == p.ID {
		st.CLIID = ""
		if err := saveState(st); err != nil {
			return err
		}
	}
	ui.Success("Deleted CLI profile %s", p.Name)
	return nil
}
