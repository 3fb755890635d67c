package main

import (
	"fmt"
	"os"

	"github.com/cuemby/granary/pkg/workspace"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a workspace in the current directory",
	Long: `Initialize registers the current directory as a Granary workspace,
either as a named workspace (tracked in the global registry) or, with
--local, as a self-contained .granary directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		local, _ := cmd.Flags().GetBool("local")
		force, _ := cmd.Flags().GetBool("force")
		skipGitCheck, _ := cmd.Flags().GetBool("skip-git-check")

		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		result, err := workspace.Init(dir, workspace.InitOptions{
			Name:         name,
			Local:        local,
			Force:        force,
			SkipGitCheck: skipGitCheck,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Workspace initialized: %s\n", result.Name)
		fmt.Printf("  Mode: %s\n", result.Mode)
		fmt.Printf("  Store: %s\n", result.Path)
		return nil
	},
}

func init() {
	initCmd.Flags().String("name", "", "workspace name (default: directory basename)")
	initCmd.Flags().Bool("local", false, "use a .granary directory in place of a named workspace")
	initCmd.Flags().Bool("force", false, "bypass the already-initialized check")
	initCmd.Flags().Bool("skip-git-check", false, "bypass the git-repository-root requirement")
}
