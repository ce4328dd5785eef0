package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/modelpin/pkg/config"
	"github.com/entrhq/modelpin/pkg/dom"
)

func TestDriverOpener(t *testing.T) {
	for _, driver := range []string{config.DriverPlaywright, config.DriverChromedp, config.DriverRod, ""} {
		open, err := DriverOpener(driver)
		require.NoError(t, err, driver)
		assert.NotNil(t, open, driver)
	}

	_, err := DriverOpener("lynx")
	assert.ErrorContains(t, err, "unknown driver")
}

func TestLaunchOptions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	opts := &config.Options{URL: appURL, Headless: true, BrowserPath: "/usr/bin/chromium", Install: true}
	launch, err := LaunchOptions(opts, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".modelpin", "profile"), launch.UserDataDir)
	assert.True(t, launch.Headless)
	assert.True(t, launch.Install)
	assert.Equal(t, "/usr/bin/chromium", launch.BrowserPath)
	assert.Nil(t, launch.Match)

	opts.CDPURL = "http://127.0.0.1:9222"
	launch, err = LaunchOptions(opts, nil)
	require.NoError(t, err)
	assert.Empty(t, launch.UserDataDir, "attached browsers keep their own profile")
	assert.Equal(t, "http://127.0.0.1:9222", launch.CDPURL)
}

func TestMarkup(t *testing.T) {
	opts := &config.Options{}
	assert.Equal(t, dom.DefaultMarkup(), Markup(opts))

	opts.Markup.PrimaryInput = "textarea.prompt"
	m := Markup(opts)
	assert.Equal(t, "textarea.prompt", m.PrimaryInput)
	assert.Equal(t, dom.DefaultOptionTextClass, m.OptionTextClass)
}
