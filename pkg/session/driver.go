package session

import (
	"context"
	"fmt"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/browser/cdp"
	"github.com/entrhq/modelpin/pkg/browser/pwpage"
	"github.com/entrhq/modelpin/pkg/browser/rodpage"
	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
)

// Opener obtains the page a session works on.
type Opener func(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (dom.Page, error)

// DriverOpener returns the opener for a driver name.
func DriverOpener(driver string) (Opener, error) {
	switch driver {
	case config.DriverPlaywright, "":
		return func(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (dom.Page, error) {
			return pwpage.Launch(ctx, opts, log)
		}, nil
	case config.DriverChromedp:
		return func(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (dom.Page, error) {
			return cdp.Launch(ctx, opts, log)
		}, nil
	case config.DriverRod:
		return func(ctx context.Context, opts browser.LaunchOptions, log *logging.Logger) (dom.Page, error) {
			return rodpage.Launch(ctx, opts, log)
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}

// LaunchOptions derives driver launch options from process options.
func LaunchOptions(opts *config.Options, filter *URLFilter) (browser.LaunchOptions, error) {
	launch := browser.LaunchOptions{
		Headless:    opts.Headless,
		CDPURL:      opts.CDPURL,
		BrowserPath: opts.BrowserPath,
		URL:         opts.URL,
		Install:     opts.Install,
	}
	if filter != nil {
		launch.Match = filter.Match
	}
	if opts.CDPURL == "" {
		dir, err := opts.ProfileDir()
		if err != nil {
			return browser.LaunchOptions{}, err
		}
		launch.UserDataDir = dir
	}
	return launch, nil
}

// Markup converts the markup overrides in opts.
func Markup(opts *config.Options) dom.Markup {
	return dom.Markup{
		OptionTextClass:    opts.Markup.OptionTextClass,
		ActionableSelector: opts.Markup.ActionableSelector,
		PrimaryInput:       opts.Markup.PrimaryInput,
	}.WithDefaults()
}
