package session

import (
	"context"
	"strings"
	"time"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
	"github.com/entrhq/modelpin/pkg/match"
	"github.com/entrhq/modelpin/pkg/ratelimit"
)

// ProbeOption is one menu entry seen by Probe.
type ProbeOption struct {
	Text        string     `yaml:"text"`
	Description string     `yaml:"description"`
	Unavailable bool       `yaml:"unavailable,omitempty"`
	Match       match.Type `yaml:"match,omitempty"`
}

// ProbeReport describes what the engine would see on the page.
type ProbeReport struct {
	URL          string        `yaml:"url"`
	Target       string        `yaml:"target"`
	Description  string        `yaml:"description"`
	ControlFound bool          `yaml:"control_found"`
	Label        string        `yaml:"label,omitempty"`
	OnTarget     bool          `yaml:"on_target"`
	MenuOpened   bool          `yaml:"menu_opened"`
	Options      []ProbeOption `yaml:"options,omitempty"`
}

// Probe inspects doc once without switching anything. With openMenu set
// it opens the selector, lists the entries that mention the target name
// and marks the one the engine would pick, then closes the menu again.
func Probe(ctx context.Context, doc dom.Document, s config.Settings, markup dom.Markup, openMenu bool, log *logging.Logger) (*ProbeReport, error) {
	if log == nil {
		log = logging.NewNop()
	}
	locator := dom.NewLocator(doc, markup, log)

	url, err := doc.URL(ctx)
	if err != nil {
		return nil, err
	}
	report := &ProbeReport{
		URL:         url,
		Target:      s.TargetModelName,
		Description: s.TargetModelDesc,
	}

	control := locator.FindControl(ctx, s.ModelSwitcherSelector)
	if control == nil {
		return report, nil
	}
	report.ControlFound = true

	label, err := control.Text(ctx)
	if err != nil {
		return nil, err
	}
	report.Label = strings.TrimSpace(label)
	report.OnTarget = match.LabelShows(label, s.TargetModelName)

	if !openMenu {
		return report, nil
	}

	if err := control.Click(ctx); err != nil {
		return nil, err
	}
	report.MenuOpened = true
	defer func() {
		if err := control.Click(context.WithoutCancel(ctx)); err != nil {
			log.Debugf("closing menu failed: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.Delay):
	}

	// Drivers hand out fresh handles per query, so the pick is recognised
	// by its text.
	var bestText string
	best := match.NewEngine(locator).FindBestMatch(ctx, s.TargetModelName, s.TargetModelDesc)
	if best != nil {
		if text, err := best.Element.Text(ctx); err == nil {
			bestText = strings.TrimSpace(text)
		}
	}

	for _, el := range locator.FindOptionCandidates(s.TargetModelName, "").All(ctx) {
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		desc := match.ExtractDescription(text, s.TargetModelName)
		opt := ProbeOption{
			Text:        strings.TrimSpace(text),
			Description: desc,
			Unavailable: ratelimit.IsUnavailable(desc),
		}
		if best != nil && opt.Text == bestText {
			opt.Match = best.Type
			best = nil
		}
		report.Options = append(report.Options, opt)
	}
	return report, nil
}
