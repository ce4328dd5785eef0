// Package browsertest provides a fixture page and a conformance suite that
// every dom.Page driver runs against a real browser.
package browsertest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/modelpin/pkg/browser"
	"github.com/entrhq/modelpin/pkg/dom"
)

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

// ChromePath returns the first Chrome or Chromium found, or "".
func ChromePath() string {
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// SkipIfNoChrome skips the test when no browser is installed.
func SkipIfNoChrome(t *testing.T) {
	t.Helper()
	if ChromePath() == "" {
		t.Skip("Chrome/Chromium not found on PATH")
	}
}

// FixtureHTML is a miniature host application: a selector control, an
// option menu that relabels the control, and a prompt input.
const FixtureHTML = `<!doctype html>
<html>
<body>
  <button class="switch" onclick="document.getElementById('menu').hidden = false">Flash</button>
  <div id="menu" hidden>
    <button role="menuitem" onclick="pick('Flash')">
      <span class="mat-mdc-menu-item-text">Flash<br>Fast answers</span>
    </button>
    <button role="menuitem" onclick="pick('Pro')">
      <span class="mat-mdc-menu-item-text">Pro<br>Advanced reasoning</span>
    </button>
    <button role="menuitem" onclick="pick('Max')">
      <span class="mat-mdc-menu-item-text">O'Brien "Max"<br>Both quotes</span>
    </button>
  </div>
  <div class="ql-editor" contenteditable="true" onfocus="document.getElementById('status').textContent = 'focused'"></div>
  <p id="status"></p>
  <button id="grow" onclick="document.body.appendChild(document.createElement('div'))">grow</button>
  <script>
    function pick(name) {
      document.querySelector('button.switch').textContent = name;
      document.getElementById('menu').hidden = true;
    }
  </script>
</body>
</html>`

// Serve starts an HTTP server for the fixture at / and /other.
func Serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(FixtureHTML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Opener opens a page on the given launch options.
type Opener func(ctx context.Context, opts browser.LaunchOptions) (dom.Page, error)

// Run exercises a driver through the dom.Page contract.
func Run(t *testing.T, open Opener) {
	t.Helper()
	SkipIfNoChrome(t)

	srv := Serve(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	page, err := open(ctx, browser.LaunchOptions{
		Headless:    true,
		UserDataDir: t.TempDir(),
		BrowserPath: ChromePath(),
		URL:         srv.URL + "/",
	})
	require.NoError(t, err)
	defer page.Close()

	var mutations atomic.Int64
	require.NoError(t, page.Observe(ctx, func() { mutations.Add(1) }))

	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/", url)

	t.Run("QuerySelector", func(t *testing.T) {
		control, err := page.QuerySelector(ctx, "button.switch")
		require.NoError(t, err)
		require.NotNil(t, control)

		text, err := control.Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Flash", text)

		none, err := page.QuerySelector(ctx, "button.missing")
		require.NoError(t, err)
		assert.Nil(t, none)

		_, err = page.QuerySelector(ctx, "button[")
		assert.ErrorIs(t, err, dom.ErrInvalidSelector)
	})

	t.Run("SwitchThroughMenu", func(t *testing.T) {
		control, err := page.QuerySelector(ctx, "button.switch")
		require.NoError(t, err)
		require.NoError(t, control.Click(ctx))

		options, err := page.QueryXPath(ctx, dom.TextQuery(dom.DefaultOptionTextClass, "Pro"))
		require.NoError(t, err)
		require.Len(t, options, 1)

		text, err := options[0].Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Pro\nAdvanced reasoning", text)

		clicked, err := options[0].ClickClosest(ctx, dom.DefaultActionableSelector)
		require.NoError(t, err)
		assert.True(t, clicked)

		control, err = page.QuerySelector(ctx, "button.switch")
		require.NoError(t, err)
		text, err = control.Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Pro", text)

		clicked, err = options[0].ClickClosest(ctx, "table")
		require.NoError(t, err)
		assert.False(t, clicked)
	})

	t.Run("XPathDocumentOrder", func(t *testing.T) {
		options, err := page.QueryXPath(ctx, dom.TextQuery(dom.DefaultOptionTextClass))
		require.NoError(t, err)
		require.Len(t, options, 3)

		first, err := options[0].Text(ctx)
		require.NoError(t, err)
		assert.Contains(t, first, "Flash")
	})

	t.Run("QuotedLiterals", func(t *testing.T) {
		for _, term := range []string{`O'Brien`, `"Max"`, `O'Brien "Max"`} {
			options, err := page.QueryXPath(ctx, dom.TextQuery(dom.DefaultOptionTextClass, term, "Both quotes"))
			require.NoError(t, err, term)
			require.Len(t, options, 1, term)

			text, err := options[0].Text(ctx)
			require.NoError(t, err)
			assert.Contains(t, text, `O'Brien "Max"`)
		}
	})

	t.Run("Focus", func(t *testing.T) {
		input, err := page.QuerySelector(ctx, dom.DefaultPrimaryInput)
		require.NoError(t, err)
		require.NotNil(t, input)
		require.NoError(t, input.Focus(ctx))

		status, err := page.QuerySelector(ctx, "#status")
		require.NoError(t, err)
		text, err := status.Text(ctx)
		require.NoError(t, err)
		assert.Equal(t, "focused", text)
	})

	t.Run("Observe", func(t *testing.T) {
		before := mutations.Load()
		grow, err := page.QuerySelector(ctx, "#grow")
		require.NoError(t, err)
		require.NoError(t, grow.Click(ctx))

		assert.Eventually(t, func() bool { return mutations.Load() > before }, 10*time.Second, 20*time.Millisecond)
	})

	t.Run("ObserveSurvivesNavigation", func(t *testing.T) {
		require.NoError(t, page.Navigate(ctx, srv.URL+"/other"))

		url, err := page.URL(ctx)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/other", url)

		before := mutations.Load()
		grow, err := page.QuerySelector(ctx, "#grow")
		require.NoError(t, err)
		require.NotNil(t, grow)
		require.NoError(t, grow.Click(ctx))

		assert.Eventually(t, func() bool { return mutations.Load() > before }, 10*time.Second, 20*time.Millisecond)
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, page.Close())
		require.NoError(t, page.Close())

		_, err := page.QuerySelector(ctx, "button")
		assert.ErrorIs(t, err, browser.ErrClosed)
	})
}
