package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/modelpin/pkg/dom"
)

func TestQueryError(t *testing.T) {
	assert.NoError(t, QueryError("a", nil))

	invalid := QueryError("button[", errors.New("SyntaxError: 'button[' is not a valid selector"))
	assert.ErrorIs(t, invalid, dom.ErrInvalidSelector)
	assert.Contains(t, invalid.Error(), "button[")

	transient := errors.New("target closed")
	other := QueryError("button", transient)
	assert.NotErrorIs(t, other, dom.ErrInvalidSelector)
	assert.ErrorIs(t, other, transient)
}

func TestLaunchOptions(t *testing.T) {
	o := LaunchOptions{}.WithDefaults()
	assert.Equal(t, DefaultTimeout, o.Timeout)
	assert.True(t, o.Matches("https://anything"))

	o.Match = func(url string) bool { return url == "https://a" }
	assert.True(t, o.Matches("https://a"))
	assert.False(t, o.Matches("https://b"))
}

func TestObservers(t *testing.T) {
	var o Observers
	calls := 0

	assert.True(t, o.Add(func() { calls++ }))
	assert.False(t, o.Add(func() { calls += 10 }))

	o.Notify()
	assert.Equal(t, 11, calls)
}
