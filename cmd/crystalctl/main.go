// Command crystalctl is a thin operations CLI over a .crystalproj
// directory: open it once to create or migrate it, run garbage collection,
// or print size statistics. It exists to exercise internal/crystal and
// internal/store from a real binary, the way bt's own CLI exercises
// internal/app — the interactive archiving UI itself is out of scope.
package main

import (
	"context"
	"fmt"
	"os"

	"crystal/internal/crystal"
	"crystal/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crystalctl",
	Short: "Operate on a Crystal project directory",
}

var openCmd = &cobra.Command{
	Use:   "open DIR",
	Short: "Create (if needed) and open a project, running repair and migration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		create, _ := cmd.Flags().GetBool("create")

		ctx := context.Background()
		p, err := crystal.Open(ctx, args[0], crystal.Options{
			Mode:   store.ModeWritable,
			Create: create,
		})
		if err != nil {
			return fmt.Errorf("opening project: %w", err)
		}
		defer p.Close(ctx)

		fmt.Printf("opened %s at major_version %d\n", args[0], p.Store().MajorVersion())
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate DIR",
	Short: "Bring an existing project's on-disk layout up to the latest version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := crystal.Open(ctx, args[0], crystal.Options{Mode: store.ModeWritable})
		if err != nil {
			return fmt.Errorf("opening project: %w", err)
		}
		defer p.Close(ctx)

		fmt.Printf("%s is at major_version %d\n", args[0], p.Store().MajorVersion())
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc DIR",
	Short: "Re-run orphaned-revision repair and report how many rows it removed",
	Long: "Repair also runs automatically on every writable open; this command " +
		"opens the project (which runs that repair), runs the scan once more, " +
		"and reports how many rows the second scan removed.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := crystal.Open(ctx, args[0], crystal.Options{Mode: store.ModeWritable})
		if err != nil {
			return fmt.Errorf("opening project: %w", err)
		}
		defer p.Close(ctx)

		repaired, err := p.Store().RepairOrphans(ctx)
		if err != nil {
			return fmt.Errorf("repairing orphaned revisions: %w", err)
		}

		if repaired == 0 {
			fmt.Println("no orphaned revisions found")
		} else {
			fmt.Printf("repaired %d orphaned revision(s)\n", repaired)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats DIR",
	Short: "Print resource/revision counts and on-disk size",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := crystal.Open(ctx, args[0], crystal.Options{Mode: store.ModeReadOnly})
		if err != nil {
			return fmt.Errorf("opening project: %w", err)
		}
		defer p.Close(ctx)

		st, err := p.Store().Stats(ctx)
		if err != nil {
			return fmt.Errorf("computing stats: %w", err)
		}

		fmt.Printf("major_version:    %d\n", st.MajorVersion)
		fmt.Printf("resources:        %d\n", st.ResourceCount)
		fmt.Printf("revisions:        %d\n", st.RevisionCount)
		fmt.Printf("groups:           %d\n", st.GroupCount)
		fmt.Printf("aliases:          %d\n", st.AliasCount)
		fmt.Printf("database size:    %s\n", humanize.Bytes(uint64(st.DatabaseBytes)))
		fmt.Printf("revisions size:   %s\n", humanize.Bytes(uint64(st.RevisionsBytes)))
		return nil
	},
}

func init() {
	openCmd.Flags().Bool("create", false, "create the project if it does not already exist")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(statsCmd)
}
