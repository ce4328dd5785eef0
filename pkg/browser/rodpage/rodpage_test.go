package rodpage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/browser/browsertest"
	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/logging"
)

func TestPageConformance(t *testing.T) {
	browsertest.Run(t, func(ctx context.Context, opts browser.LaunchOptions) (dom.Page, error) {
		return Launch(ctx, opts, nil)
	})
}

func TestLaunchBadBinary(t *testing.T) {
	_, err := Launch(context.Background(), browser.LaunchOptions{
		Headless:    true,
		UserDataDir: t.TempDir(),
		BrowserPath: "/nonexistent/chrome",
	}, nil)
	assert.Error(t, err)
}

func TestAttachBadURL(t *testing.T) {
	_, err := Launch(context.Background(), browser.LaunchOptions{
		CDPURL: "http://127.0.0.1:1",
	}, nil)
	assert.Error(t, err)
}

func TestSetupFailureIsLogged(t *testing.T) {
	require.NoError(t, logging.SetLevel("debug"))
	t.Cleanup(func() { _ = logging.SetLevel("info") })

	var buf bytes.Buffer
	p := &Page{log: logging.NewWriter("rod", &buf)}

	p.setupFailed("set viewport", nil)
	assert.Empty(t, buf.String())

	p.setupFailed("set viewport", errors.New("target closed"))
	assert.Contains(t, buf.String(), "failed to set viewport: target closed")
}
