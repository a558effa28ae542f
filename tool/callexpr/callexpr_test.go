package callexpr

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

func TestLex_Delimiters(t *testing.T) {
	tokens, err := Lex(`( ) [ ] { } , : - +`)
	if err != nil {
		t.Fatalf("Lex() error = %v", err)
	}
	want := []TokenKind{
		TokenLParen, TokenRParen, TokenLBracket, TokenRBracket,
		TokenLBrace, TokenRBrace, TokenComma, TokenColon,
		TokenMinus, TokenPlus, TokenEOF,
	}
	got := make([]TokenKind, 0, len(tokens))
	for _, tok := range tokens {
		got = append(got, tok.Kind)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Lex() kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestLex_Keywords(t *testing.T) {
	tests := map[string]TokenKind{
		"true":  TokenTrue,
		"True":  TokenTrue,
		"false": TokenFalse,
		"False": TokenFalse,
		"null":  TokenNull,
		"None":  TokenNull,
		"TRUE":  TokenIdent,
		"nil":   TokenIdent,
	}
	for input, want := range tests {
		tokens, err := Lex(input)
		if err != nil {
			t.Fatalf("Lex(%q) error = %v", input, err)
		}
		if tokens[0].Kind != want {
			t.Fatalf("Lex(%q) kind = %s, want %s", input, tokens[0].Kind, want)
		}
	}
}

func TestLex_Strings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{`"it's"`, "it's"},
		{`'say "hi"'`, `say "hi"`},
		{`"a\nb"`, "a\nb"},
		{`'a\'b'`, "a'b"},
		{`"é"`, "é"},
		{`"\q"`, `\q`},
		{`""`, ""},
		{`"\x41\xe9"`, "Aé"},
		{`"\101\0"`, "A\x00"},
		{`"\u00e9"`, "é"},
		{`"\U0001F600"`, "😀"},
		{`"\ud83d\ude00"`, "😀"},
		{`"\ud83d!"`, "\uFFFD!"},
	}
	for _, tt := range tests {
		tokens, err := Lex(tt.input)
		if err != nil {
			t.Fatalf("Lex(%q) error = %v", tt.input, err)
		}
		if tokens[0].Kind != TokenString || tokens[0].Value != tt.want {
			t.Fatalf("Lex(%q) = %s %q, want string %q", tt.input, tokens[0].Kind, tokens[0].Value, tt.want)
		}
	}
}

func TestLex_Errors(t *testing.T) {
	tests := []string{
		`"open`,
		`'open\`,
		"\"line\nbreak\"",
		`"\u12"`,
		`"\x4"`,
		`"\xZZ"`,
		`"\U00110000"`,
		`1e`,
		`12abc`,
		`@`,
		`a.b`,
	}
	for _, input := range tests {
		_, err := Lex(input)
		if err == nil {
			t.Fatalf("Lex(%q) expected error", input)
		}
		if !errors.Is(err, ErrParse) {
			t.Fatalf("Lex(%q) error = %v, want ErrParse", input, err)
		}
	}
}

func TestLex_PositionTracking(t *testing.T) {
	tokens, err := Lex(`add(1, "x")`)
	if err != nil {
		t.Fatalf("Lex() error = %v", err)
	}
	wantPos := []int{0, 3, 4, 5, 7, 10, 11}
	for i, tok := range tokens {
		if tok.Pos != wantPos[i] {
			t.Fatalf("token %d (%s) pos = %d, want %d", i, tok.Kind, tok.Pos, wantPos[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Parse
// ---------------------------------------------------------------------------

func TestParse_Calls(t *testing.T) {
	tests := []struct {
		input string
		want  Call
	}{
		{"add(45, 55)", Call{Name: "add", Args: []any{int64(45), int64(55)}}},
		{"ping()", Call{Name: "ping", Args: []any{}}},
		{"  ping ( )  ", Call{Name: "ping", Args: []any{}}},
		{`strings_to_ints("INDIA")`, Call{Name: "strings_to_ints", Args: []any{"INDIA"}}},
		{"neg(-3, +2.5, -1e3)", Call{Name: "neg", Args: []any{int64(-3), 2.5, -1000.0}}},
		{"flags(True, false, None, null)", Call{Name: "flags", Args: []any{true, false, nil, nil}}},
		{"sum([1, 2, 3],)", Call{Name: "sum", Args: []any{[]any{int64(1), int64(2), int64(3)}}}},
		{
			`mix({"a": [1, (2, 3)], 'b': {"c": None}})`,
			Call{Name: "mix", Args: []any{map[string]any{
				"a": []any{int64(1), []any{int64(2), int64(3)}},
				"b": map[string]any{"c": nil},
			}}},
		},
		{"tuple((1,), (2), ())", Call{Name: "tuple", Args: []any{[]any{int64(1)}, int64(2), []any{}}}},
		{`join("a" 'b')`, Call{Name: "join", Args: []any{"ab"}}},
		{"big(9223372036854775808)", Call{Name: "big", Args: []any{9223372036854775808.0}}},
		{"frac(.5)", Call{Name: "frac", Args: []any{0.5}}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", tt.input, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		input   string
		wantMsg string
	}{
		{"add(x, 1)", "non-literal argument"},
		{"obj.add(1)", "unexpected character"},
		{"add(a=1)", "unexpected character"},
		{"add(1, 2", "expected , or )"},
		{"add 1, 2", "expected ("},
		{"add(1)(2)", "after call"},
		{"(1, 2)", "expected tool name"},
		{"", "expected tool name"},
		{"add(1 2)", "expected , or )"},
		{"add(,)", "expected literal"},
		{"add({1: 2})", "mapping keys must be strings"},
		{`add({"a" 1})`, "expected :"},
		{"add(-'x')", "sign must be followed by a number"},
		{"add(f(1))", "non-literal argument"},
		{"add(1; 2)", "unexpected character"},
	}
	for _, tt := range tests {
		_, err := Parse(tt.input)
		if err == nil {
			t.Fatalf("Parse(%q) expected error", tt.input)
		}
		if !errors.Is(err, ErrParse) {
			t.Fatalf("Parse(%q) error = %v, want ErrParse", tt.input, err)
		}
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("Parse(%q) error type = %T, want *ParseError", tt.input, err)
		}
		if !strings.Contains(parseErr.Msg, tt.wantMsg) {
			t.Fatalf("Parse(%q) msg = %q, want containing %q", tt.input, parseErr.Msg, tt.wantMsg)
		}
		if parseErr.Input != tt.input {
			t.Fatalf("Parse(%q) input = %q", tt.input, parseErr.Input)
		}
	}
}

func TestParse_NestingLimit(t *testing.T) {
	deep := "f(" + strings.Repeat("[", maxNestingDepth+1) + strings.Repeat("]", maxNestingDepth+1) + ")"
	if _, err := Parse(deep); !errors.Is(err, ErrParse) {
		t.Fatalf("Parse(deep) error = %v, want ErrParse", err)
	}

	ok := "f(" + strings.Repeat("[", maxNestingDepth-1) + strings.Repeat("]", maxNestingDepth-1) + ")"
	if _, err := Parse(ok); err != nil {
		t.Fatalf("Parse(ok) error = %v", err)
	}
}

func TestParse_ErrorPosition(t *testing.T) {
	_, err := Parse("add(1, x)")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Parse() error = %v, want *ParseError", err)
	}
	if parseErr.Pos != 7 {
		t.Fatalf("Pos = %d, want 7", parseErr.Pos)
	}
	if !strings.Contains(parseErr.Error(), "position 7") {
		t.Fatalf("Error() = %q", parseErr.Error())
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		input string
		want  any
	}{
		{"42", int64(42)},
		{"-0.25", -0.25},
		{`'x'`, "x"},
		{"[1, 'two', None]", []any{int64(1), "two", nil}},
		{`{"k": (1, 2)}`, map[string]any{"k": []any{int64(1), int64(2)}}},
		{"(7)", int64(7)},
	}
	for _, tt := range tests {
		got, err := ParseLiteral(tt.input)
		if err != nil {
			t.Fatalf("ParseLiteral(%q) error = %v", tt.input, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("ParseLiteral(%q) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}

	for _, input := range []string{"", "1 2", "name", "[1,"} {
		if _, err := ParseLiteral(input); !errors.Is(err, ErrParse) {
			t.Fatalf("ParseLiteral(%q) error = %v, want ErrParse", input, err)
		}
	}
}

func TestLooksLikeCall(t *testing.T) {
	tests := map[string]bool{
		"add(1, 2)":   true,
		"  ping()  ":  true,
		"add":         false,
		"add(":        false,
		"strings_to":  false,
		"weird)(":     false,
		"x.y(1)":      true,
		"(1, 2)":      true,
		"add(1) # ok": false,
	}
	for input, want := range tests {
		if got := LooksLikeCall(input); got != want {
			t.Fatalf("LooksLikeCall(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestCallString(t *testing.T) {
	call := Call{Name: "mix", Args: []any{int64(1), "a", nil, []any{true}, map[string]any{"b": 2.5, "a": false}}}
	want := `mix(1, "a", null, [true], {"a": false, "b": 2.5})`
	if got := call.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}

	roundTrip, err := Parse(call.String())
	if err != nil {
		t.Fatalf("Parse(String()) error = %v", err)
	}
	if diff := cmp.Diff(call, roundTrip); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
