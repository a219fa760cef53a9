// internal/agent/macrotool.go
package agent

import (
	"bytes"
	"fmt"
	"net/url"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schemaBaseURL = "https://page-agent.local/tools/"

// variant is one arm of the decision union: a tool name and its compiled
// input schema.
type variant struct {
	name        string
	description string
	input       map[string]any
	compiled    *jsonschema.Schema
}

// DecisionSchema is the tagged union of every registered tool's input shape,
// wrapped together with the narrative reasoning fields. It is composed once
// from a registry and is safe for concurrent use.
type DecisionSchema struct {
	variants map[string]*variant
	names    []string
	document map[string]any
}

// Compose builds the decision schema over all tools in reg.
func Compose(reg *Registry) (*DecisionSchema, error) {
	names := reg.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("cannot compose a decision schema without tools")
	}

	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)

	s := &DecisionSchema{
		variants: make(map[string]*variant, len(names)),
		names:    names,
	}
	arms := make([]any, 0, len(names))
	for _, name := range names {
		t, _ := reg.Get(name)
		input := t.InputSchema()
		if input == nil {
			input = map[string]any{"type": "object"}
		}

		compiled, err := compileInput(compiler, name, input)
		if err != nil {
			return nil, err
		}
		s.variants[name] = &variant{name: name, description: t.Description(), input: input, compiled: compiled}

		arms = append(arms, map[string]any{
			"type":        "object",
			"description": t.Description(),
			"properties": map[string]any{
				name: input,
			},
			"required":             []any{name},
			"additionalProperties": false,
		})
	}

	s.document = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"evaluation_previous_goal": map[string]any{"type": "string", "description": "One-sentence analysis of whether the previous action succeeded."},
			"memory":                   map[string]any{"type": "string", "description": "Progress notes worth carrying to the next step."},
			"next_goal":                map[string]any{"type": "string", "description": "The immediate goal of the selected action."},
			"action": map[string]any{
				"description": "Exactly one tool invocation, keyed by tool name.",
				"anyOf":       arms,
			},
		},
		"required": []any{"evaluation_previous_goal", "memory", "next_goal", "action"},
	}
	return s, nil
}

func compileInput(compiler *jsonschema.Compiler, name string, input map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through JSON so the compiler sees canonical decoded values.
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("tool %q has an unencodable input schema: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("tool %q has an invalid input schema: %w", name, err)
	}
	loc := schemaBaseURL + url.PathEscape(name) + ".json"
	if err := compiler.AddResource(loc, doc); err != nil {
		return nil, fmt.Errorf("tool %q: failed to add input schema: %w", name, err)
	}
	compiled, err := compiler.Compile(loc)
	if err != nil {
		return nil, fmt.Errorf("tool %q: failed to compile input schema: %w", name, err)
	}
	return compiled, nil
}

// ToolNames lists the union's variants in sorted order.
func (s *DecisionSchema) ToolNames() []string {
	return append([]string(nil), s.names...)
}

// Has reports whether name is a variant of the union.
func (s *DecisionSchema) Has(name string) bool {
	_, ok := s.variants[name]
	return ok
}

// Document returns the JSON Schema offered to the model. Callers must not
// modify it.
func (s *DecisionSchema) Document() map[string]any {
	return s.document
}

// JSON renders the schema document.
func (s *DecisionSchema) JSON() ([]byte, error) {
	return json.MarshalIndent(s.document, "", "  ")
}

// wireDecision mirrors the decision as the model emits it.
type wireDecision struct {
	EvaluationPreviousGoal string                         `json:"evaluation_previous_goal"`
	Memory                 string                         `json:"memory"`
	NextGoal               string                         `json:"next_goal"`
	Action                 map[string]jsoniter.RawMessage `json:"action"`
}

// Decode parses raw model output into a Decision. The action object must
// hold exactly one key naming a variant, and its value must satisfy that
// variant's input schema.
func (s *DecisionSchema) Decode(raw []byte) (Decision, error) {
	var wire wireDecision
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Decision{}, &DecodeError{Raw: string(raw), Err: err}
	}

	if len(wire.Action) != 1 {
		return Decision{}, &DecodeError{
			Raw: string(raw),
			Err: fmt.Errorf("action must select exactly one tool, got %d", len(wire.Action)),
		}
	}

	var (
		name     string
		rawInput jsoniter.RawMessage
	)
	for k, v := range wire.Action {
		name, rawInput = k, v
	}

	v, ok := s.variants[name]
	if !ok {
		return Decision{}, &ToolNotFoundError{Name: name}
	}

	input, err := v.decodeInput(rawInput)
	if err != nil {
		return Decision{}, &DecodeError{Raw: string(raw), Err: err}
	}

	return Decision{
		Brain: Brain{
			EvaluationPreviousGoal: wire.EvaluationPreviousGoal,
			Memory:                 wire.Memory,
			NextGoal:               wire.NextGoal,
		},
		Action: ActionCall{Tool: name, Input: input},
	}, nil
}

// ValidateInput checks an already-decoded input map against the named
// variant. Model clients that build decisions without Decode use it.
func (s *DecisionSchema) ValidateInput(name string, input map[string]any) error {
	v, ok := s.variants[name]
	if !ok {
		return &ToolNotFoundError{Name: name}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return &DecodeError{Err: err}
	}
	if _, err := v.decodeInput(raw); err != nil {
		return &DecodeError{Raw: string(raw), Err: err}
	}
	return nil
}

func (v *variant) decodeInput(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("null")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("input for %q is not valid JSON: %w", v.name, err)
	}
	if err := v.compiled.Validate(inst); err != nil {
		return nil, fmt.Errorf("input for %q does not match its schema: %w", v.name, err)
	}

	var input map[string]any
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("input for %q must be an object: %w", v.name, err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}
