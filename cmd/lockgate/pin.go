package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPinCmd() *cobra.Command {
	var flags storeFlags
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Inspect or reset the device PIN",
	}
	flags.register(cmd)

	cmd.AddCommand(newPinStatusCmd(&flags))
	cmd.AddCommand(newPinClearCmd(&flags))
	return cmd
}

func newPinStatusCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print PIN and lock state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locker, closeFn, err := flags.openLocker(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			st := locker.State()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "available: %t\n", st.Available)
			_, _ = fmt.Fprintf(out, "pin:       %t\n", st.HasPin)
			_, _ = fmt.Fprintf(out, "locked:    %t\n", st.Locked)
			if st.LastActivity.IsZero() {
				_, _ = fmt.Fprintln(out, "activity:  never")
			} else {
				_, _ = fmt.Fprintf(out, "activity:  %s\n", st.LastActivity.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newPinClearCmd(flags *storeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the PIN, lock flag and activity timestamp",
		Long: "Remove the PIN, lock flag and activity timestamp from the local store.\n" +
			"This is an operator recovery tool; the gate will ask for a new PIN on next sign-in.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locker, closeFn, err := flags.openLocker(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			if err := locker.ClearPin(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "pin cleared")
			return err
		},
	}
}
