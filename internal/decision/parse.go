package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tradegate/internal/pkg/jsonutil"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

var ErrNoJSON = errors.New("decision: no json object found")

const decisionSchema = `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action":     {"type": "string", "minLength": 1},
    "symbol":     {"type": "string"},
    "quantity":   {"type": ["number", "string"]},
    "reasoning":  {"type": "string"},
    "confidence": {"type": ["number", "string"]}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("decision.json", strings.NewReader(decisionSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile("decision.json")
	})
	return schema, schemaErr
}

// Parse 解析 agent 输出（可夹带说明文字或代码块），按 schema 校验后宽松取值。
func Parse(raw string) (Decision, error) {
	body, ok := jsonutil.ExtractJSON(raw)
	if !ok || !gjson.Valid(body) {
		return Decision{}, ErrNoJSON
	}
	parsed := gjson.Parse(body)
	if parsed.IsArray() {
		first := parsed.Get("0")
		if !first.Exists() {
			return Decision{}, fmt.Errorf("decision: empty array")
		}
		parsed = first
		body = first.Raw
	}
	if err := validateSchema(body); err != nil {
		return Decision{}, err
	}
	d := Decision{
		Action:     Action(strings.ToLower(strings.TrimSpace(parsed.Get("action").String()))),
		Symbol:     strings.TrimSpace(parsed.Get("symbol").String()),
		Quantity:   parsed.Get("quantity").Float(),
		Reasoning:  strings.TrimSpace(parsed.Get("reasoning").String()),
		Confidence: parsed.Get("confidence").Float(),
	}
	if err := d.Validate(); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func validateSchema(body string) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("decision schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("decision schema: %w", err)
	}
	return nil
}

// Validate 检查调用方契约：动作合法、数量非负、买卖必须带 symbol 与正数量。
func (d Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("decision: unknown action %q", d.Action)
	}
	if d.Quantity < 0 {
		return fmt.Errorf("decision: negative quantity %.4f", d.Quantity)
	}
	if d.Action == ActionHold {
		return nil
	}
	if d.Symbol == "" {
		return fmt.Errorf("decision: %s requires symbol", d.Action)
	}
	if d.Quantity <= 0 {
		return fmt.Errorf("decision: %s requires positive quantity", d.Action)
	}
	return nil
}
