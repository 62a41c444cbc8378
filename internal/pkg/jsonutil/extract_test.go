package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain object", `{"action":"buy"}`, `{"action":"buy"}`, true},
		{"prose around object", `I think {"action":"hold","reasoning":"flat {market}"} is best`, `{"action":"hold","reasoning":"flat {market}"}`, true},
		{"fenced with language tag", "```json\n{\"action\":\"sell\"}\n```", `{"action":"sell"}`, true},
		{"array first", `[{"a":1}] trailing`, `[{"a":1}]`, true},
		{"escaped quote", `{"r":"say \"}\" ok"}`, `{"r":"say \"}\" ok"}`, true},
		{"unbalanced", `{"action":"buy"`, "", false},
		{"empty", "   ", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
