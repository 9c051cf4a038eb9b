// Package lexer tokenizes a Lumen code stream into an indentation-aware
// token sequence.
package lexer

import (
	"strings"
	"unicode/utf8"

	"github.com/lumen-lang/lumen/internal/diagnostic"
	"github.com/lumen-lang/lumen/pkg/token"
)

// Lexer tokenizes one code stream. String literals are consumed whole,
// including any `{expr}` interpolation segments (see lexString); the
// parser splits those segments out and re-lexes each as an expression.
type Lexer struct {
	file   string
	src    string
	pos    int
	line   int
	col    int
	indent []int // indent stack in column widths, starting with 0

	atLineStart    bool
	pendingDedents int

	bag *diagnostic.Bag
}

// New creates a Lexer over src, reporting lex errors into bag.
func New(file, src string, bag *diagnostic.Bag) *Lexer {
	return &Lexer{
		file:        file,
		src:         src,
		pos:         0,
		line:        1,
		col:         1,
		indent:      []int{0},
		atLineStart: true,
		bag:         bag,
	}
}

// Tokenize runs the lexer to completion and returns the full token
// stream; the lexer never aborts on the first error.
func (l *Lexer) Tokenize() []token.Token {
	var toks []token.Token
	for {
		t := l.Next()
		toks = append(toks, t)
		if t.Kind == token.EOF {
			break
		}
	}
	return toks
}

func (l *Lexer) span(start, end, line, col int) diagnostic.Span {
	return diagnostic.Span{Start: start, End: end, Line: line, Col: col, File: l.file}
}

func (l *Lexer) errorf(start, line, col int, kind diagnostic.Kind, format string, args ...any) {
	l.bag.Errorf(diagnostic.StageLex, kind, l.span(start, l.pos, line, col), format, args...)
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() byte {
	c := l.src[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

// Next returns the next token, handling indentation at logical-line
// boundaries.
func (l *Lexer) Next() token.Token {
	if l.pendingDedents > 0 {
		l.pendingDedents--
		return token.Token{Kind: token.DEDENT, Line: l.line, Col: l.col, Start: l.pos, End: l.pos}
	}

	if l.atLineStart {
		if tok, ok := l.handleIndentation(); ok {
			return tok
		}
	}

	l.skipInlineWhitespaceAndComments()

	if l.pos >= len(l.src) {
		// emit trailing dedents down to the base indentation, then EOF
		if len(l.indent) > 1 {
			l.indent = l.indent[:len(l.indent)-1]
			return token.Token{Kind: token.DEDENT, Line: l.line, Col: l.col, Start: l.pos, End: l.pos}
		}
		return token.Token{Kind: token.EOF, Line: l.line, Col: l.col, Start: l.pos, End: l.pos}
	}

	startLine, startCol, startPos := l.line, l.col, l.pos
	c := l.peek()

	switch {
	case c == '\n':
		l.advance()
		l.atLineStart = true
		return token.Token{Kind: token.NEWLINE, Line: startLine, Col: startCol, Start: startPos, End: l.pos}
	case isIdentStart(c):
		return l.lexIdent(startLine, startCol, startPos)
	case isDigit(c):
		return l.lexNumber(startLine, startCol, startPos)
	case c == '"':
		return l.lexString(startLine, startCol, startPos, false, false)
	case c == '`':
		return l.lexString(startLine, startCol, startPos, true, false)
	case c == 'b' && l.peekAt(1) == '"':
		l.advance()
		return l.lexString(startLine, startCol, startPos, false, true)
	default:
		return l.lexOperator(startLine, startCol, startPos)
	}
}

func (l *Lexer) handleIndentation() (token.Token, bool) {
	start := l.pos
	width := 0
	for {
		c := l.peek()
		if c == ' ' {
			width++
			l.advance()
			continue
		}
		if c == '\t' {
			l.errorf(l.pos, l.line, l.col, "StrayTab", "tab characters are not permitted for indentation")
			width += 8 - (width % 8)
			l.advance()
			continue
		}
		break
	}
	// blank line or comment-only line: no INDENT/DEDENT, re-scan as normal
	if l.peek() == '\n' || l.peek() == '#' || l.pos >= len(l.src) {
		l.atLineStart = false
		return token.Token{}, false
	}

	l.atLineStart = false
	top := l.indent[len(l.indent)-1]
	switch {
	case width > top:
		l.indent = append(l.indent, width)
		return token.Token{Kind: token.INDENT, Line: l.line, Col: l.col, Start: start, End: l.pos}, true
	case width < top:
		count := 0
		for len(l.indent) > 1 && l.indent[len(l.indent)-1] > width {
			l.indent = l.indent[:len(l.indent)-1]
			count++
		}
		if l.indent[len(l.indent)-1] != width {
			l.errorf(start, l.line, l.col, "BadIndentation", "indentation does not match any enclosing level")
			l.indent[len(l.indent)-1] = width
		}
		if count > 1 {
			l.pendingDedents = count - 1
		}
		return token.Token{Kind: token.DEDENT, Line: l.line, Col: l.col, Start: start, End: l.pos}, true
	default:
		return token.Token{}, false
	}
}

func (l *Lexer) skipInlineWhitespaceAndComments() {
	for l.pos < len(l.src) {
		c := l.peek()
		switch {
		case c == ' ' || c == '\r':
			l.advance()
		case c == '\t':
			l.errorf(l.pos, l.line, l.col, "StrayTab", "tab characters are not permitted")
			l.advance()
		case c == '#':
			// comments, doc-comments (`##`) included, are discarded
			// to the end of the line; no comment text reaches the
			// parser.
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= utf8.RuneSelf
}
func isIdentCont(c byte) bool { return isIdentStart(c) || isDigit(c) }
func isDigit(c byte) bool     { return c >= '0' && c <= '9' }

func (l *Lexer) lexIdent(line, col, start int) token.Token {
	for l.pos < len(l.src) && isIdentCont(l.peek()) {
		l.advance()
	}
	text := l.src[start:l.pos]
	kind := token.IDENT
	if kw, ok := token.Keywords[text]; ok {
		kind = kw
	}
	return token.Token{Kind: kind, Text: text, Line: line, Col: col, Start: start, End: l.pos}
}

func (l *Lexer) lexNumber(line, col, start int) token.Token {
	isFloat := false
	if l.peek() == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X') {
		l.advance()
		l.advance()
		l.consumeDigits(isHexDigit)
		return l.finishNumber(start, line, col, false)
	}
	if l.peek() == '0' && (l.peekAt(1) == 'b' || l.peekAt(1) == 'B') {
		l.advance()
		l.advance()
		l.consumeDigits(func(c byte) bool { return c == '0' || c == '1' || c == '_' })
		return l.finishNumber(start, line, col, false)
	}
	if l.peek() == '0' && (l.peekAt(1) == 'o' || l.peekAt(1) == 'O') {
		l.advance()
		l.advance()
		l.consumeDigits(func(c byte) bool { return c >= '0' && c <= '7' || c == '_' })
		return l.finishNumber(start, line, col, false)
	}

	l.consumeDigits(func(c byte) bool { return isDigit(c) || c == '_' })

	if l.peek() == '.' && isDigit(l.peekAt(1)) {
		isFloat = true
		l.advance()
		l.consumeDigits(func(c byte) bool { return isDigit(c) || c == '_' })
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		save := l.pos
		l.advance()
		if l.peek() == '+' || l.peek() == '-' {
			l.advance()
		}
		if isDigit(l.peek()) {
			isFloat = true
			l.consumeDigits(func(c byte) bool { return isDigit(c) || c == '_' })
		} else {
			l.pos = save // not actually an exponent
		}
	}

	return l.finishNumber(start, line, col, isFloat)
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '_'
}

func (l *Lexer) consumeDigits(pred func(byte) bool) {
	for l.pos < len(l.src) && pred(l.peek()) {
		l.advance()
	}
}

func (l *Lexer) finishNumber(start, line, col int, isFloat bool) token.Token {
	kind := token.INT
	if isFloat {
		kind = token.FLOAT
	}
	if !isFloat && l.peek() == 'n' { // bigint suffix
		l.advance()
		kind = token.BIGINT
	}
	text := l.src[start:l.pos]
	return token.Token{Kind: kind, Text: text, Line: line, Col: col, Start: start, End: l.pos}
}

func (l *Lexer) lexOperator(line, col, start int) token.Token {
	three := map[string]token.Kind{"..=": token.DOTDOTEQ}
	two := map[string]token.Kind{
		"->": token.ARROW, "=>": token.FATARROW, "|>": token.PIPE, "~>": token.COMPOSE,
		"??": token.QQUESTION, "==": token.EQ, "!=": token.NEQ, "<=": token.LE, ">=": token.GE,
		"&&": token.ANDAND, "||": token.OROR, "::": token.COLONCOLON, "..": token.DOTDOT,
		"+=": token.PLUSEQ, "-=": token.MINUSEQ, "*=": token.STAREQ, "/=": token.SLASHEQ,
		"%=": token.PERCENTEQ, "**": token.STARSTAR, "//": token.SLASHSLASH,
		"<<": token.SHL, ">>": token.SHR, "<>": token.CONCAT,
	}
	one := map[byte]token.Kind{
		'(': token.LPAREN, ')': token.RPAREN, '{': token.LBRACE, '}': token.RBRACE,
		'[': token.LBRACKET, ']': token.RBRACKET, ',': token.COMMA, '.': token.DOT,
		':': token.COLON, ';': token.SEMI, '?': token.QUESTION, '!': token.BANG,
		'@': token.AT, '=': token.ASSIGN, '+': token.PLUS, '-': token.MINUS,
		'*': token.STAR, '/': token.SLASH, '%': token.PERCENT, '&': token.AMP,
		'|': token.PIPEOP, '^': token.CARET, '~': token.TILDE, '<': token.LT, '>': token.GT,
	}

	if start+3 <= len(l.src) {
		if k, ok := three[l.src[start:start+3]]; ok {
			l.advance()
			l.advance()
			l.advance()
			return token.Token{Kind: k, Text: l.src[start:l.pos], Line: line, Col: col, Start: start, End: l.pos}
		}
	}
	if start+2 <= len(l.src) {
		if k, ok := two[l.src[start:start+2]]; ok {
			l.advance()
			l.advance()
			return token.Token{Kind: k, Text: l.src[start:l.pos], Line: line, Col: col, Start: start, End: l.pos}
		}
	}
	c := l.peek()
	if k, ok := one[c]; ok {
		l.advance()
		return token.Token{Kind: k, Text: string(c), Line: line, Col: col, Start: start, End: l.pos}
	}

	r, size := utf8.DecodeRuneInString(l.src[l.pos:])
	if r == utf8.RuneError {
		l.errorf(start, line, col, "InvalidCharacter", "invalid UTF-8 byte")
		l.pos++
		l.col++
	} else {
		l.errorf(start, line, col, "InvalidCharacter", "unexpected character %q", r)
		for i := 0; i < size; i++ {
			l.advance()
		}
	}
	return l.Next()
}

// lexString tokenizes a (possibly triple-quoted) string literal in one
// pass, decoding escapes but leaving `{expr}` interpolation segments as
// literal text (brace-depth tracked so a nested `{` inside the
// expression, e.g. a map literal, does not end the segment early). The
// parser splits Text on unescaped `{`/`}` pairs and re-lexes each
// segment as an expression (the parser reassembles the
// interpolated)").
func (l *Lexer) lexString(line, col, start int, raw, bytesLit bool) token.Token {
	quote := l.peek()
	triple := l.peekAt(1) == quote && l.peekAt(2) == quote
	l.advance()
	if triple {
		l.advance()
		l.advance()
	}

	var out strings.Builder
	depth := 0
	for {
		if l.pos >= len(l.src) {
			l.errorf(start, line, col, "UnterminatedString", "unterminated string literal")
			break
		}
		c := l.peek()
		if c == quote && depth == 0 {
			if triple {
				if l.peekAt(1) == quote && l.peekAt(2) == quote {
					l.advance()
					l.advance()
					l.advance()
					break
				}
				l.advance()
				out.WriteByte(quote)
				continue
			}
			l.advance()
			break
		}
		if c == '\n' && !triple && depth == 0 {
			l.errorf(start, line, col, "UnterminatedString", "unterminated string literal (newline before closing quote)")
			break
		}
		if c == '{' && !raw {
			depth++
			out.WriteByte('{')
			l.advance()
			continue
		}
		if c == '}' && !raw && depth > 0 {
			depth--
			out.WriteByte('}')
			l.advance()
			continue
		}
		if c == '\\' && !raw && depth == 0 {
			l.advance()
			esc := l.peek()
			l.advance()
			switch esc {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r':
				out.WriteByte('\r')
			case '\\', '"', '\'', '`', '{', '}':
				out.WriteByte(esc)
			default:
				l.errorf(l.pos-2, l.line, l.col, "InvalidEscape", "invalid escape sequence \\%c", esc)
				out.WriteByte(esc)
			}
			continue
		}
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		out.WriteRune(r)
		for i := 0; i < size; i++ {
			l.advance()
		}
	}

	kind := token.STRING
	if raw {
		kind = token.RAW_STRING
	}
	if bytesLit {
		kind = token.BYTES
	}
	return token.Token{Kind: kind, Text: out.String(), Line: line, Col: col, Start: start, End: l.pos}
}
