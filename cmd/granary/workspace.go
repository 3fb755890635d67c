package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/granary/pkg/workspace"
	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage the named-workspace registry",
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := workspace.Load()
		if err != nil {
			return err
		}

		listings := reg.ListWorkspaces()
		if len(listings) == 0 {
			fmt.Println("No workspaces registered")
			return nil
		}

		fmt.Printf("%-20s %-20s %s\n", "NAME", "CREATED", "ROOTS")
		for _, l := range listings {
			fmt.Printf("%-20s %-20s %s\n",
				l.Name,
				l.Metadata.CreatedAt.Format("2006-01-02 15:04:05"),
				strings.Join(l.Roots, ", "))
		}
		return nil
	},
}

var workspaceUseCmd = &cobra.Command{
	Use:   "use NAME",
	Short: "Register the current directory as a root of workspace NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addRoot(args[0])
	},
}

var workspaceAddRootCmd = &cobra.Command{
	Use:   "add-root NAME",
	Short: "Register the current directory as a root of workspace NAME",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addRoot(args[0])
	},
}

func addRoot(name string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	reg, err := workspace.Load()
	if err != nil {
		return err
	}
	if _, ok := reg.Workspaces[name]; !ok {
		if err := workspace.CreateWorkspace(reg, name); err != nil {
			return err
		}
	}
	if err := reg.AddRoot(dir, name); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("✓ %s registered as a root of workspace %q\n", dir, name)
	return nil
}

var workspaceRemoveRootCmd = &cobra.Command{
	Use:   "remove-root",
	Short: "Remove the current directory from the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}

		reg, err := workspace.Load()
		if err != nil {
			return err
		}
		if !reg.RemoveRoot(dir) {
			fmt.Printf("%s is not registered to any workspace\n", dir)
			return nil
		}
		if err := reg.Save(); err != nil {
			return err
		}

		fmt.Printf("✓ %s removed from the registry\n", dir)
		return nil
	},
}

func init() {
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceUseCmd)
	workspaceCmd.AddCommand(workspaceAddRootCmd)
	workspaceCmd.AddCommand(workspaceRemoveRootCmd)
}
