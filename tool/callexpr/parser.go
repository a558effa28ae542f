package callexpr

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const maxNestingDepth = 64

// ErrParse is matched by every error this package returns.
var ErrParse = errors.New("callexpr: parse error")

// ParseError describes where and why call syntax was rejected.
type ParseError struct {
	Input string
	Pos   int
	Msg   string
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("callexpr: %s at position %d in %q", e.Msg, e.Pos, e.Input)
}

// Is reports whether target is ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func newParseError(input string, pos int, msg string) *ParseError {
	return &ParseError{Input: input, Pos: pos, Msg: msg}
}

// Call is a parsed call expression.
type Call struct {
	Name string
	Args []any
}

// String renders the call back into literal call notation.
func (c Call) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		parts = append(parts, formatLiteral(arg))
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}

// LooksLikeCall reports whether input is shaped like a call expression and
// should be handed to Parse rather than treated as a bare tool name.
func LooksLikeCall(input string) bool {
	trimmed := strings.TrimSpace(input)
	return strings.HasSuffix(trimmed, ")") && strings.Contains(trimmed, "(")
}

// Parse parses exactly one call of a bare identifier applied to literal
// arguments: identifier '(' (literal (',' literal)* ','?)? ')'.
//
// Literals are numbers, single- or double-quoted strings, true/false
// (True/False), null (None), lists [...], tuples (...) and mappings with
// string keys {...}. Integers decode as int64, other numbers as float64,
// tuples and lists as []any, mappings as map[string]any.
func Parse(input string) (Call, error) {
	tokens, err := Lex(input)
	if err != nil {
		return Call{}, err
	}
	p := &parser{src: input, tokens: tokens}

	name := p.current()
	if name.Kind != TokenIdent {
		return Call{}, p.errorf(name, "expected tool name but got %s", name.Kind)
	}
	p.advance()

	if p.current().Kind != TokenLParen {
		return Call{}, p.errorf(p.current(), "expected ( after %q but got %s", name.Value, p.current().Kind)
	}
	p.advance()

	args, _, err := p.parseSequence(TokenRParen, 1)
	if err != nil {
		return Call{}, err
	}
	if p.current().Kind != TokenEOF {
		return Call{}, p.errorf(p.current(), "unexpected %s after call", p.current().Kind)
	}
	return Call{Name: name.Value, Args: args}, nil
}

// ParseLiteral parses a single literal value using the same grammar as call
// arguments.
func ParseLiteral(input string) (any, error) {
	tokens, err := Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{src: input, tokens: tokens}
	value, err := p.parseLiteral(1)
	if err != nil {
		return nil, err
	}
	if p.current().Kind != TokenEOF {
		return nil, p.errorf(p.current(), "unexpected %s after literal", p.current().Kind)
	}
	return value, nil
}

type parser struct {
	src    string
	tokens []Token
	pos    int
}

func (p *parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: TokenEOF, Pos: len(p.src)}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() Token {
	tok := p.current()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.current()
	if tok.Kind != kind {
		return tok, p.errorf(tok, "expected %s but got %s", kind, tok.Kind)
	}
	p.advance()
	return tok, nil
}

func (p *parser) errorf(tok Token, format string, args ...any) *ParseError {
	return newParseError(p.src, tok.Pos, fmt.Sprintf(format, args...))
}

// parseSequence parses comma-separated literals up to and including the
// closing token. It reports whether a trailing comma was present.
func (p *parser) parseSequence(closing TokenKind, depth int) ([]any, bool, error) {
	items := []any{}
	trailingComma := false
	for p.current().Kind != closing {
		value, err := p.parseLiteral(depth)
		if err != nil {
			return nil, false, err
		}
		items = append(items, value)
		trailingComma = false

		if p.current().Kind == TokenComma {
			p.advance()
			trailingComma = true
			continue
		}
		if p.current().Kind != closing {
			return nil, false, p.errorf(p.current(), "expected , or %s but got %s", closing, p.current().Kind)
		}
	}
	p.advance()
	return items, trailingComma, nil
}

func (p *parser) parseLiteral(depth int) (any, error) {
	if depth > maxNestingDepth {
		return nil, p.errorf(p.current(), "literal nested deeper than %d levels", maxNestingDepth)
	}

	tok := p.current()
	switch tok.Kind {
	case TokenNumber:
		p.advance()
		return p.number(tok, "")
	case TokenMinus, TokenPlus:
		p.advance()
		num, err := p.expect(TokenNumber)
		if err != nil {
			return nil, p.errorf(num, "sign must be followed by a number, got %s", num.Kind)
		}
		return p.number(num, tok.Value)
	case TokenString:
		p.advance()
		return p.adjacentStrings(tok.Value), nil
	case TokenTrue:
		p.advance()
		return true, nil
	case TokenFalse:
		p.advance()
		return false, nil
	case TokenNull:
		p.advance()
		return nil, nil
	case TokenLBracket:
		p.advance()
		items, _, err := p.parseSequence(TokenRBracket, depth+1)
		return items, err
	case TokenLParen:
		p.advance()
		items, trailingComma, err := p.parseSequence(TokenRParen, depth+1)
		if err != nil {
			return nil, err
		}
		// (x) is a parenthesized literal, (x,) and () are tuples.
		if len(items) == 1 && !trailingComma {
			return items[0], nil
		}
		return items, nil
	case TokenLBrace:
		p.advance()
		return p.parseMapping(depth + 1)
	case TokenIdent:
		return nil, p.errorf(tok, "non-literal argument %q", tok.Value)
	default:
		return nil, p.errorf(tok, "expected literal but got %s", tok.Kind)
	}
}

// adjacentStrings joins implicitly concatenated string literals ('a' 'b').
func (p *parser) adjacentStrings(first string) string {
	if p.current().Kind != TokenString {
		return first
	}
	var sb strings.Builder
	sb.WriteString(first)
	for p.current().Kind == TokenString {
		sb.WriteString(p.advance().Value)
	}
	return sb.String()
}

func (p *parser) parseMapping(depth int) (any, error) {
	out := map[string]any{}
	for p.current().Kind != TokenRBrace {
		keyTok := p.current()
		if keyTok.Kind != TokenString {
			return nil, p.errorf(keyTok, "mapping keys must be strings, got %s", keyTok.Kind)
		}
		p.advance()
		key := p.adjacentStrings(keyTok.Value)

		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		value, err := p.parseLiteral(depth)
		if err != nil {
			return nil, err
		}
		out[key] = value

		if p.current().Kind == TokenComma {
			p.advance()
			continue
		}
		if p.current().Kind != TokenRBrace {
			return nil, p.errorf(p.current(), "expected , or } but got %s", p.current().Kind)
		}
	}
	p.advance()
	return out, nil
}

func (p *parser) number(tok Token, sign string) (any, error) {
	text := tok.Value
	if sign == "-" {
		text = "-" + text
	}
	if !strings.ContainsAny(tok.Value, ".eE") {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf(tok, "invalid number %q", text)
	}
	return f, nil
}

func formatLiteral(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(typed)
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, formatLiteral(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		parts := make([]string, 0, len(keys))
		for _, key := range keys {
			parts = append(parts, strconv.Quote(key)+": "+formatLiteral(typed[key]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(typed)
	}
}
