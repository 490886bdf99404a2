package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>...",
		Short: "Copy script files into the scripts directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, path := range args {
				s, err := a.user.AddFile(path)
				if err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
				if _, ok := a.builtin.Get(s.InvariantName); ok {
					fmt.Fprintf(cmd.OutOrStdout(), "added %q as %s (overrides the built-in script)\n", s.InvariantName, s.Source)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %q as %s\n", s.InvariantName, s.Source)
			}
			return nil
		},
	}
}

func newRemoveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <script name>...",
		Short: "Delete scripts from the scripts directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range args {
				s, ok := a.user.Get(name)
				if !ok {
					if _, builtin := a.builtin.Get(name); builtin {
						return fmt.Errorf("%s is built in and cannot be removed", name)
					}
					return fmt.Errorf("%w: %s", errUnknownScript, name)
				}
				if _, err := a.user.Remove(s); err != nil {
					return fmt.Errorf("remove %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %q\n", name)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "winmaint", version)
		},
	}
}
