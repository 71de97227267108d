package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeActionType(t *testing.T) {
	cases := []struct {
		in   string
		want ActionType
	}{
		{"navigate", ActionNavigate},
		{"goto", ActionNavigate},
		{"GOTO", ActionNavigate},
		{"click", ActionClick},
		{"type", ActionTypeInput},
		{"fill", ActionTypeInput},
		{"input", ActionTypeInput},
		{"scroll", ActionScroll},
		{"scroll_down", ActionScroll},
		{"extract", ActionExtract},
		{"finish", ActionFinish},
		{"done", ActionFinish},
		{"hallucinated_action", ActionScroll},
	}
	for _, tc := range cases {
		a := Action{Type: ActionType(tc.in)}
		normalizeActionType(&a)
		assert.Equal(t, tc.want, a.Type, "input %q", tc.in)
	}
}
