package main

import (
	"io"

	"github.com/spf13/cobra"

	"lockgate/cmd/internal/app"
	"lockgate/cmd/internal/devicelock"
	"lockgate/cmd/internal/lockstore"
	"lockgate/cmd/security/pin"
)

// storeFlags selects the lock store offline commands operate on.
type storeFlags struct {
	backend string
	path    string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cfg := app.LoadConfig()
	cmd.PersistentFlags().StringVar(&f.backend, "store", cfg.Store, "lock store backend: file, sqlite or memory")
	cmd.PersistentFlags().StringVar(&f.path, "store-path", cfg.StorePath, "lock store location")
}

// openLocker opens the store directly. A running daemon sees changes on its next poll.
func (f *storeFlags) openLocker(stderr io.Writer) (*devicelock.Locker, func() error, error) {
	log := app.NewLoggerTo(stderr, "warn", "pretty")

	store, closeFn, err := lockstore.Open(f.backend, f.path, log)
	if err != nil {
		return nil, closeFn, err
	}
	hasher, err := pin.FromEnv()
	if err != nil {
		_ = closeFn()
		return nil, func() error { return nil }, err
	}
	locker := devicelock.New(store, devicelock.Options{Hasher: hasher, Logger: log})
	return locker, closeFn, nil
}
