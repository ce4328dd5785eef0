package dom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/modelpin/pkg/dom"
	"github.com/entrhq/modelpin/pkg/dom/domtest"
)

func TestEscapeLiteral(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Pro", "'Pro'"},
		{"empty", "", "''"},
		{"double quote only", `say "hi"`, `'say "hi"'`},
		{"apostrophe only", "O'Brien", `"O'Brien"`},
		{"both quotes", `O'Brien "Pro"`, `concat('O', "'", 'Brien "Pro"')`},
		{"leading apostrophe", `'a"`, `concat('', "'", 'a"')`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dom.EscapeLiteral(tt.input))
		})
	}
}

func TestEscapeLiteralRoundTrip(t *testing.T) {
	inputs := []string{
		"O'Brien",
		`The "best" model`,
		`It's "quoted"`,
		`''""''`,
		`"'`,
		"Advanced math and code with 3.1 Pro",
		"",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			got, err := domtest.ParseLiteral(dom.EscapeLiteral(input))
			require.NoError(t, err)
			assert.Equal(t, input, got)
		})
	}
}

func TestTextQuery(t *testing.T) {
	t.Run("name and description", func(t *testing.T) {
		q := dom.TextQuery("mat-mdc-menu-item-text", "Pro", "Advanced math")
		assert.Equal(t,
			"//span[contains(@class, 'mat-mdc-menu-item-text') and contains(., 'Pro') and contains(., 'Advanced math')]",
			q)
	})

	t.Run("empty terms are skipped", func(t *testing.T) {
		q := dom.TextQuery("item", "Pro", "")
		assert.Equal(t, "//span[contains(@class, 'item') and contains(., 'Pro')]", q)
	})

	t.Run("quoted terms survive parsing", func(t *testing.T) {
		q := dom.TextQuery("item", "O'Brien", `It's "new"`)
		class, terms, err := domtest.ParseTextQuery(q)
		require.NoError(t, err)
		assert.Equal(t, "item", class)
		assert.Equal(t, []string{"O'Brien", `It's "new"`}, terms)
	})
}
