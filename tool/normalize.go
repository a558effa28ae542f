package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	mcpclient "github.com/petal-labs/toolmux/tool/mcp"
)

// resultKey is the conventional field providers use to carry a single return value.
const resultKey = "result"

// ContentPart is one item of a provider's call response.
type ContentPart struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Envelope is the raw response of a tool call, before normalization.
type Envelope struct {
	Content []ContentPart `json:"content"`
	IsError bool          `json:"is_error,omitempty"`
}

// FirstText returns the trimmed text of the first content part and whether
// there was one.
func (e Envelope) FirstText() (string, bool) {
	if len(e.Content) == 0 {
		return "", false
	}
	return strings.TrimSpace(e.Content[0].Text), true
}

func envelopeFromResult(result mcpclient.ToolsCallResult) Envelope {
	env := Envelope{
		Content: make([]ContentPart, 0, len(result.Content)),
		IsError: result.IsError,
	}
	for _, block := range result.Content {
		env.Content = append(env.Content, ContentPart{
			Kind:     block.Type,
			Text:     block.Text,
			Data:     block.Data,
			MimeType: block.MimeType,
		})
	}
	return env
}

// Normalize reduces a call envelope to the value the tool meant to return.
// The first content part's text is parsed as JSON:
//   - no content or unparseable text: the envelope itself
//   - an object with a "result" key: that value
//   - an object with exactly one key: that key's value
//   - any other object: the object
//   - any non-object value: the value
//
// Integral numbers decode as int64, others as float64. Normalize never fails.
func Normalize(env Envelope) any {
	text, ok := env.FirstText()
	if !ok {
		return env
	}
	value, err := decodeJSONValue(text)
	if err != nil {
		return env
	}

	object, isObject := value.(map[string]any)
	if !isObject {
		return value
	}
	if result, ok := object[resultKey]; ok {
		return result
	}
	if len(object) == 1 {
		for _, only := range object {
			return only
		}
	}
	return object
}

// decodeJSONValue parses exactly one JSON value from text.
func decodeJSONValue(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("tool: trailing data after JSON value")
	}
	return convertNumbers(value), nil
}

func convertNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case map[string]any:
		for key, item := range typed {
			typed[key] = convertNumbers(item)
		}
		return typed
	case []any:
		for i, item := range typed {
			typed[i] = convertNumbers(item)
		}
		return typed
	default:
		return value
	}
}

// encodeArguments renders an argument mapping as canonical JSON for logs.
func encodeArguments(args map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "<unencodable>"
	}
	return strings.TrimSpace(buf.String())
}
