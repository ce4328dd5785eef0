package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/modelpin/pkg/session"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open the browser and keep the selector on target",
		Long: `Open (or attach to) a Chromium browser and reconcile the model selector on
every page matching --match until interrupted.

The first run opens a fresh profile: sign in to the host application in the
window that appears. The profile is kept for later runs.`,
		Args: cobra.NoArgs,
		RunE: runAgent,
	}
	addBrowserFlags(cmd.Flags())
	return cmd
}

func runAgent(cmd *cobra.Command, _ []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogging(opts)
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := openStore(opts, log)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(opts)
	if err != nil {
		return err
	}

	s, err := session.New(session.Config{
		Options: opts,
		Store:   store,
		Catalog: catalog,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "modelpin v%s using %s\n", version, opts.Driver)
	if path := log.LogPath(); path != "" {
		fmt.Fprintf(out, "Logging to %s\n", path)
	}
	fmt.Fprintf(out, "Settings: %s\n", store.Path())

	if err := s.Run(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintf(out, "Stopped: %s\n", s.Stats())
	return nil
}
