package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/session"
)

const probePollInterval = 250 * time.Millisecond

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Inspect the page once without switching",
		Long: `Open the page, wait for the model selector and report what the agent sees:
the selector label, whether it is on target and, with --open, the menu
entries that mention the target and the one that would be picked.

Use it to check selectors and preset wording after the host app changes.`,
		Args: cobra.NoArgs,
		RunE: runProbe,
	}
	addBrowserFlags(cmd.Flags())
	cmd.Flags().Bool("open", false, "open the selector menu and list matching entries")
	cmd.Flags().Duration("wait", 15*time.Second, "how long to wait for the selector to appear")
	return cmd
}

func runProbe(cmd *cobra.Command, _ []string) error {
	openMenu, err := cmd.Flags().GetBool("open")
	if err != nil {
		return err
	}
	wait, err := cmd.Flags().GetDuration("wait")
	if err != nil {
		return err
	}

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
	settings := config.NewResolver(catalog).Resolve(store.Get(config.DefaultItems())).Settings

	filter, err := session.NewURLFilter(opts.Matches)
	if err != nil {
		return err
	}
	launch, err := session.LaunchOptions(opts, filter)
	if err != nil {
		return err
	}
	open, err := session.DriverOpener(opts.Driver)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	page, err := open(ctx, launch, log.Named("browser"))
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	markup := session.Markup(opts)
	plog := log.Named("probe")

	// Wait for the control before opening the menu.
	var report *session.ProbeReport
	for {
		report, err = session.Probe(waitCtx, page, settings, markup, false, plog)
		if err == nil && report.ControlFound {
			break
		}
		select {
		case <-waitCtx.Done():
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}
			return printYAML(cmd, report)
		case <-time.After(probePollInterval):
		}
	}

	if openMenu {
		report, err = session.Probe(ctx, page, settings, markup, true, plog)
		if err != nil {
			return fmt.Errorf("probe failed: %w", err)
		}
	}
	return printYAML(cmd, report)
}

func printYAML(cmd *cobra.Command, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
