package ratelimit

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/modelpin/pkg/logging"
)

func TestIsUnavailable(t *testing.T) {
	tests := []struct {
		desc string
		want bool
	}{
		{"Limit reached, try later", true},
		{"  limit reached", true},
		{"LIMIT", true},
		{" Limit reached", true},
		{"Advanced reasoning", false},
		{"Daily limit reached", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUnavailable(tt.desc))
		})
	}
}

func TestGuard(t *testing.T) {
	var buf bytes.Buffer
	g := NewGuard(logging.NewWriter("ratelimit", &buf))
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	assert.False(t, g.ShouldSuppress("Pro"))
	_, ok := g.Active()
	assert.False(t, ok)
	assert.False(t, g.Clear("nothing to clear"))

	g.Record("Pro", "Limit reached")

	assert.True(t, g.ShouldSuppress("Pro"))
	assert.False(t, g.ShouldSuppress("pro"), "names compare exactly")
	assert.False(t, g.ShouldSuppress("Fast"))

	b, ok := g.Active()
	require.True(t, ok)
	assert.Equal(t, Block{ModelName: "Pro", DescriptionText: "Limit reached", BlockedAt: fixed}, b)

	assert.True(t, g.Clear("target changed"))
	assert.False(t, g.ShouldSuppress("Pro"))
	assert.Contains(t, buf.String(), "target changed")
}

func TestGuardReplacesBlock(t *testing.T) {
	g := NewGuard(nil)
	g.Record("Pro", "Limit reached")
	g.Record("Thinking", "Limit reached")

	assert.False(t, g.ShouldSuppress("Pro"))
	assert.True(t, g.ShouldSuppress("Thinking"))
}
