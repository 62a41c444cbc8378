package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FencedModelOutput(t *testing.T) {
	raw := "Here is my call:\n```json\n{\"action\":\"BUY\",\"symbol\":\"AAPLx\",\"quantity\":\"25.5\",\"reasoning\":\"earnings beat\",\"confidence\":72}\n```"
	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, "AAPLx", d.Symbol)
	assert.InDelta(t, 25.5, d.Quantity, 1e-9)
	assert.Equal(t, "earnings beat", d.Reasoning)
	assert.InDelta(t, 72, d.Confidence, 1e-9)
}

func TestParse_ArrayTakesFirst(t *testing.T) {
	d, err := Parse(`[{"action":"hold"},{"action":"buy","symbol":"X","quantity":1}]`)
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"no json":          "I would rather not trade today",
		"missing action":   `{"symbol":"TSLAx","quantity":10}`,
		"action not str":   `{"action":3}`,
		"unknown action":   `{"action":"short","symbol":"TSLAx","quantity":10}`,
		"negative qty":     `{"action":"buy","symbol":"TSLAx","quantity":-5}`,
		"buy without sym":  `{"action":"buy","quantity":5}`,
		"sell zero amount": `{"action":"sell","symbol":"TSLAx","quantity":0}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(raw)
			assert.Error(t, err)
		})
	}
}

func TestDecisionHoldKeepsReasoning(t *testing.T) {
	d := Decision{Action: ActionBuy, Symbol: "NVDAx", Quantity: 40, Reasoning: "momentum"}
	held := d.Hold("CIRCUIT BREAKER: POSITION_LIMIT")
	assert.Equal(t, ActionHold, held.Action)
	assert.Zero(t, held.Quantity)
	assert.Equal(t, "[CIRCUIT BREAKER: POSITION_LIMIT] momentum", held.Reasoning)
	assert.Equal(t, ActionBuy, d.Action, "original value must not change")
}

func TestPortfolioPositionLookup(t *testing.T) {
	p := Portfolio{Positions: []Position{{Symbol: "aaplx", Quantity: 2, CurrentPrice: 200}}}
	pos, ok := p.Position("AAPLx")
	require.True(t, ok)
	assert.InDelta(t, 400, pos.MarketValue(), 1e-9)
	_, ok = p.Position("TSLAx")
	assert.False(t, ok)
}
