// Package callexpr parses the literal call notation name(arg, arg, ...) used
// as a textual alternative to structured tool calls. Only literals are
// accepted as arguments and nothing is ever evaluated.
//
// String literals accept the usual backslash escapes plus octal, \xNN,
// \uNNNN (surrogate pairs are combined) and \UNNNNNNNN. Unknown escapes are
// kept verbatim.
package callexpr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// TokenKind identifies the type of a lexer token.
type TokenKind int

const (
	TokenIdent  TokenKind = iota // identifier
	TokenNumber                  // unsigned numeric literal
	TokenString                  // quoted string literal

	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }
	TokenComma    // ,
	TokenColon    // :
	TokenMinus    // -
	TokenPlus     // +

	TokenTrue  // true / True
	TokenFalse // false / False
	TokenNull  // null / None
	TokenEOF
)

var tokenNames = map[TokenKind]string{
	TokenIdent:    "identifier",
	TokenNumber:   "number",
	TokenString:   "string",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLBrace:   "{",
	TokenRBrace:   "}",
	TokenComma:    ",",
	TokenColon:    ":",
	TokenMinus:    "-",
	TokenPlus:     "+",
	TokenTrue:     "true",
	TokenFalse:    "false",
	TokenNull:     "null",
	TokenEOF:      "end of input",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token with position information.
type Token struct {
	Kind  TokenKind
	Value string // raw text, or the decoded contents for strings
	Pos   int    // byte offset in source
}

var keywords = map[string]TokenKind{
	"true":  TokenTrue,
	"True":  TokenTrue,
	"false": TokenFalse,
	"False": TokenFalse,
	"null":  TokenNull,
	"None":  TokenNull,
}

type lexer struct {
	src    string
	pos    int
	tokens []Token
}

// Lex tokenizes the input string and returns all tokens.
func Lex(src string) ([]Token, error) {
	l := &lexer{src: src}
	if err := l.lexAll(); err != nil {
		return nil, err
	}
	return l.tokens, nil
}

func (l *lexer) lexAll() error {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			l.tokens = append(l.tokens, Token{Kind: TokenEOF, Pos: l.pos})
			return nil
		}

		ch, _ := utf8.DecodeRuneInString(l.src[l.pos:])
		if l.tryEmitSingleCharToken(ch) {
			continue
		}

		switch {
		case ch == '"' || ch == '\'':
			if err := l.lexString(byte(ch)); err != nil {
				return err
			}
		case isDigit(ch) || (ch == '.' && isDigit(rune(l.peekNext()))):
			if err := l.lexNumber(); err != nil {
				return err
			}
		case isIdentStart(ch):
			l.lexIdent()
		default:
			return newParseError(l.src, l.pos, fmt.Sprintf("unexpected character %q", string(ch)))
		}
	}
}

func (l *lexer) tryEmitSingleCharToken(ch rune) bool {
	switch ch {
	case '(':
		l.emit1(TokenLParen)
	case ')':
		l.emit1(TokenRParen)
	case '[':
		l.emit1(TokenLBracket)
	case ']':
		l.emit1(TokenRBracket)
	case '{':
		l.emit1(TokenLBrace)
	case '}':
		l.emit1(TokenRBrace)
	case ',':
		l.emit1(TokenComma)
	case ':':
		l.emit1(TokenColon)
	case '-':
		l.emit1(TokenMinus)
	case '+':
		l.emit1(TokenPlus)
	default:
		return false
	}
	return true
}

func (l *lexer) peekNext() byte {
	next := l.pos + 1
	if next >= len(l.src) {
		return 0
	}
	return l.src[next]
}

func (l *lexer) emit1(kind TokenKind) {
	l.tokens = append(l.tokens, Token{Kind: kind, Value: l.src[l.pos : l.pos+1], Pos: l.pos})
	l.pos++
}

func (l *lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(ch) {
			break
		}
		l.pos += size
	}
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder

	for l.pos < len(l.src) {
		ch := l.src[l.pos]
		if ch == '\\' {
			l.pos++
			if l.pos >= len(l.src) {
				return newParseError(l.src, start, "unterminated string")
			}
			if err := l.lexEscape(&sb); err != nil {
				return err
			}
			continue
		}
		if ch == '\n' {
			return newParseError(l.src, start, "unterminated string")
		}
		if ch == quote {
			l.pos++ // closing quote
			l.tokens = append(l.tokens, Token{
				Kind:  TokenString,
				Value: sb.String(),
				Pos:   start,
			})
			return nil
		}
		sb.WriteByte(ch)
		l.pos++
	}

	return newParseError(l.src, start, "unterminated string")
}

func (l *lexer) lexEscape(sb *strings.Builder) error {
	esc := l.src[l.pos]
	switch esc {
	case '"', '\'', '\\', '/':
		sb.WriteByte(esc)
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case '0', '1', '2', '3', '4', '5', '6', '7':
		end := l.pos + 1
		for end < len(l.src) && end < l.pos+3 && l.src[end] >= '0' && l.src[end] <= '7' {
			end++
		}
		code, _ := strconv.ParseUint(l.src[l.pos:end], 8, 32)
		sb.WriteRune(rune(code))
		l.pos = end - 1
	case 'x':
		r, err := l.hexEscape(2)
		if err != nil {
			return err
		}
		sb.WriteRune(r)
	case 'u':
		r, err := l.hexEscape(4)
		if err != nil {
			return err
		}
		if utf16.IsSurrogate(r) {
			r = l.lowSurrogate(r)
		}
		// A lone surrogate is written as U+FFFD.
		sb.WriteRune(r)
	case 'U':
		r, err := l.hexEscape(8)
		if err != nil {
			return err
		}
		if r < 0 || r > unicode.MaxRune {
			return newParseError(l.src, l.pos-9, "\\U escape out of range")
		}
		sb.WriteRune(r)
	default:
		sb.WriteByte('\\')
		sb.WriteByte(esc)
	}
	l.pos++
	return nil
}

// hexEscape decodes the n hex digits following the escape letter at l.pos
// and leaves l.pos on the last digit.
func (l *lexer) hexEscape(n int) (rune, error) {
	esc := l.src[l.pos]
	if l.pos+n >= len(l.src) {
		return 0, newParseError(l.src, l.pos-1, fmt.Sprintf("truncated \\%c escape", esc))
	}
	code, err := strconv.ParseUint(l.src[l.pos+1:l.pos+1+n], 16, 32)
	if err != nil {
		return 0, newParseError(l.src, l.pos-1, fmt.Sprintf("invalid \\%c escape", esc))
	}
	l.pos += n
	return rune(code), nil
}

// lowSurrogate combines a high surrogate with an immediately following
// \uXXXX low surrogate. Anything else leaves high unpaired.
func (l *lexer) lowSurrogate(high rune) rune {
	rest := l.src[l.pos+1:]
	if len(rest) < 6 || rest[0] != '\\' || rest[1] != 'u' {
		return high
	}
	code, err := strconv.ParseUint(rest[2:6], 16, 32)
	if err != nil {
		return high
	}
	combined := utf16.DecodeRune(high, rune(code))
	if combined == unicode.ReplacementChar {
		return high
	}
	l.pos += 6
	return combined
}

func (l *lexer) lexNumber() error {
	start := l.pos
	for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		digits := l.pos
		for l.pos < len(l.src) && isDigit(rune(l.src[l.pos])) {
			l.pos++
		}
		if digits == l.pos {
			return newParseError(l.src, start, "malformed exponent")
		}
	}
	if l.pos < len(l.src) {
		if next, _ := utf8.DecodeRuneInString(l.src[l.pos:]); isIdentPart(next) {
			return newParseError(l.src, start, "malformed number")
		}
	}
	l.tokens = append(l.tokens, Token{Kind: TokenNumber, Value: l.src[start:l.pos], Pos: start})
	return nil
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.src) {
		ch, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(ch) {
			break
		}
		l.pos += size
	}
	word := l.src[start:l.pos]
	kind := TokenIdent
	if kw, ok := keywords[word]; ok {
		kind = kw
	}
	l.tokens = append(l.tokens, Token{Kind: kind, Value: word, Pos: start})
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isIdentPart(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch) || unicode.IsDigit(ch)
}
