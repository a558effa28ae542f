package tool

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{name: "result key", text: `{"result": 7}`, want: int64(7)},
		{name: "result key wins over others", text: `{"result": "x", "meta": 1}`, want: "x"},
		{name: "null result", text: `{"result": null}`, want: nil},
		{name: "single key", text: `{"ascii_values": [1,2,3]}`, want: []any{int64(1), int64(2), int64(3)}},
		{name: "multi key", text: `{"a": 1, "b": 2.5}`, want: map[string]any{"a": int64(1), "b": 2.5}},
		{name: "bare number", text: `42`, want: int64(42)},
		{name: "bare float", text: `4.0`, want: 4.0},
		{name: "bare list", text: `["x", true]`, want: []any{"x", true}},
		{name: "bare string", text: `"hello"`, want: "hello"},
		{name: "surrounding whitespace", text: "\n  {\"result\": 1e2}  \n", want: 100.0},
		{name: "empty object", text: `{}`, want: map[string]any{}},
		{name: "nested numbers", text: `{"result": {"n": [1, {"m": -2}]}}`, want: map[string]any{"n": []any{int64(1), map[string]any{"m": int64(-2)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(textEnvelope(tt.text))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Normalize(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}

func TestNormalizeFallsBackToEnvelope(t *testing.T) {
	tests := map[string]Envelope{
		"plain text":     textEnvelope("not-json"),
		"trailing data":  textEnvelope(`{"a": 1} extra`),
		"empty text":     textEnvelope("   "),
		"no content":     {},
		"truncated json": textEnvelope(`{"result": `),
		"error envelope": {Content: []ContentPart{{Kind: "text", Text: "division by zero"}}, IsError: true},
	}
	for name, env := range tests {
		got := Normalize(env)
		gotEnv, ok := got.(Envelope)
		if !ok {
			t.Fatalf("%s: Normalize() = %T (%v), want Envelope", name, got, got)
		}
		if diff := cmp.Diff(env, gotEnv); diff != "" {
			t.Fatalf("%s: envelope changed (-want +got):\n%s", name, diff)
		}
	}
}

func TestNormalizeReadsOnlyFirstPart(t *testing.T) {
	env := Envelope{Content: []ContentPart{
		{Kind: "text", Text: `{"result": 1}`},
		{Kind: "text", Text: `{"result": 2}`},
	}}
	if got := Normalize(env); got != int64(1) {
		t.Fatalf("Normalize() = %v, want 1", got)
	}
}

func TestEnvelopeFromResult(t *testing.T) {
	env := envelopeFromResult(mcpclient.ToolsCallResult{
		Content: []mcpclient.ContentBlock{
			{Type: "text", Text: "hi"},
			{Type: "image", Data: "AAAA", MimeType: "image/png"},
		},
		IsError: true,
	})
	want := Envelope{
		Content: []ContentPart{
			{Kind: "text", Text: "hi"},
			{Kind: "image", Data: "AAAA", MimeType: "image/png"},
		},
		IsError: true,
	}
	if diff := cmp.Diff(want, env); diff != "" {
		t.Fatalf("envelopeFromResult() mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalArguments(t *testing.T) {
	flat, err := ClassifySchema([]byte(flatAddSchema))
	if err != nil {
		t.Fatalf("ClassifySchema(flat) error = %v", err)
	}
	wrapped, err := ClassifySchema([]byte(wrappedAddSchema))
	if err != nil {
		t.Fatalf("ClassifySchema(wrapped) error = %v", err)
	}

	got, err := MarshalArguments(Descriptor{Name: "add", Schema: flat}, []any{2, 3})
	if err != nil {
		t.Fatalf("MarshalArguments(flat) error = %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": 2, "b": 3}, got); diff != "" {
		t.Fatalf("flat payload mismatch (-want +got):\n%s", diff)
	}

	got, err = MarshalArguments(Descriptor{Name: "add", Schema: wrapped}, []any{2, 3})
	if err != nil {
		t.Fatalf("MarshalArguments(wrapped) error = %v", err)
	}
	want := map[string]any{"input": map[string]any{"a": 2, "b": 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("wrapped payload mismatch (-want +got):\n%s", diff)
	}

	empty, err := MarshalArguments(Descriptor{Name: "ping", Schema: Schema{Kind: SchemaFlat}}, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("MarshalArguments(no params) = %v, %v", empty, err)
	}
}

func TestMarshalArgumentsArity(t *testing.T) {
	flat, err := ClassifySchema([]byte(flatAddSchema))
	if err != nil {
		t.Fatalf("ClassifySchema() error = %v", err)
	}
	for _, args := range [][]any{{2}, {1, 2, 3}, nil} {
		_, err := MarshalArguments(Descriptor{Name: "add", Schema: flat}, args)
		var countErr *ArgumentCountError
		if !errors.As(err, &countErr) {
			t.Fatalf("MarshalArguments(%v) error = %v, want ArgumentCountError", args, err)
		}
		if countErr.Expected != 2 || countErr.Actual != len(args) {
			t.Fatalf("ArgumentCountError = %+v, want expected 2 actual %d", countErr, len(args))
		}
	}
}
