package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newLockCmd() *cobra.Command {
	var flags storeFlags
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock the device now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			locker, closeFn, err := flags.openLocker(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			if !locker.HasPin() {
				return errors.New("no pin configured")
			}
			if err := locker.LockNow(); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "locked")
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
