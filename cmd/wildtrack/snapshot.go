package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export and restore registry snapshots",
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write every registry to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exp, err := app.exporter(cmd.Context())
			if err != nil {
				return err
			}
			info, err := exp.Export(cmd.Context())
			if err != nil {
				return err
			}
			return app.print(info)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exp, err := app.exporter(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := exp.List(cmd.Context())
			if err != nil {
				return err
			}
			return app.print(infos)
		},
	}

	restore := &cobra.Command{
		Use:   "restore [key]",
		Short: "Replace every registry with a snapshot (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := app.exporter(cmd.Context())
			if err != nil {
				return err
			}
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				latest, err := exp.Latest(cmd.Context())
				if err != nil {
					return err
				}
				key = latest.Key
			}
			if err := exp.Restore(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "restored %s\n", key)
			return nil
		},
	}

	cmd.AddCommand(export, list, restore)
	return cmd
}
