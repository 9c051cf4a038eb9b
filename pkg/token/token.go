// Package token defines the lexical token kinds produced by pkg/lexer.
package token

import "fmt"

// Kind identifies the category of a token.
type Kind int

const (
	EOF Kind = iota
	NEWLINE
	INDENT
	DEDENT

	IDENT
	INT
	BIGINT
	FLOAT
	STRING
	RAW_STRING
	BYTES
	INTERP_START // `{` opening an interpolation segment inside a string
	INTERP_END   // `}` closing an interpolation segment

	// Keywords
	KW_CELL
	KW_RECORD
	KW_ENUM
	KW_TYPE
	KW_TRAIT
	KW_IMPL
	KW_CONST
	KW_IMPORT
	KW_USE
	KW_TOOL
	KW_GRANT
	KW_BIND
	KW_EFFECT
	KW_HANDLER
	KW_HANDLE
	KW_WITH
	KW_AGENT
	KW_MEMORY
	KW_MACHINE
	KW_PIPELINE
	KW_ORCHESTRATION
	KW_GUARDRAIL
	KW_EVAL
	KW_PATTERN
	KW_MACRO
	KW_EXTERN
	KW_LET
	KW_MUT
	KW_IF
	KW_ELSE
	KW_WHEN
	KW_FOR
	KW_IN
	KW_WHILE
	KW_LOOP
	KW_MATCH
	KW_RETURN
	KW_HALT
	KW_EMIT
	KW_DEFER
	KW_YIELD
	KW_BREAK
	KW_CONTINUE
	KW_FN
	KW_END
	KW_THEN
	KW_DO
	KW_IS
	KW_AS
	KW_AND
	KW_OR
	KW_NOT
	KW_NULL
	KW_TRUE
	KW_FALSE
	KW_PERFORM
	KW_RESUME
	KW_AWAIT
	KW_SPAWN
	KW_TRY
	KW_OK
	KW_ERR
	KW_COMPTIME
	KW_WHERE
	KW_STATE
	KW_ON_ENTER
	KW_TRANSITION
	KW_STAGE
	KW_TO

	// Punctuation / operators
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET
	COMMA
	DOT
	DOTDOT
	DOTDOTEQ
	COLON
	COLONCOLON
	SEMI
	ARROW     // ->
	FATARROW  // =>
	PIPE      // |>
	COMPOSE   // ~>
	QUESTION  // ?
	QQUESTION // ??
	BANG      // !
	AT        // @

	ASSIGN
	PLUSEQ
	MINUSEQ
	STAREQ
	SLASHEQ
	PERCENTEQ

	PLUS
	MINUS
	STAR
	SLASH
	SLASHSLASH // floor div
	PERCENT
	STARSTAR // exponent
	AMP
	PIPEOP // bitwise or `|`
	CARET
	TILDE
	SHL
	SHR

	EQ
	NEQ
	LT
	LE
	GT
	GE

	OROR
	ANDAND

	CONCAT // `<>` string concat sugar, distinct from `+`
)

var names = map[Kind]string{
	EOF: "EOF", NEWLINE: "NEWLINE", INDENT: "INDENT", DEDENT: "DEDENT",
	IDENT: "IDENT", INT: "INT", BIGINT: "BIGINT", FLOAT: "FLOAT",
	STRING: "STRING", RAW_STRING: "RAW_STRING", BYTES: "BYTES",
	LPAREN: "(", RPAREN: ")", LBRACE: "{", RBRACE: "}",
	LBRACKET: "[", RBRACKET: "]", COMMA: ",", DOT: ".",
	DOTDOT: "..", DOTDOTEQ: "..=", COLON: ":", COLONCOLON: "::",
	ARROW: "->", FATARROW: "=>", PIPE: "|>", COMPOSE: "~>",
	QUESTION: "?", QQUESTION: "??", BANG: "!", AT: "@",
	ASSIGN: "=", PLUS: "+", MINUS: "-", STAR: "*", SLASH: "/",
	SLASHSLASH: "//", PERCENT: "%", STARSTAR: "**",
	AMP: "&", PIPEOP: "|", CARET: "^", TILDE: "~", SHL: "<<", SHR: ">>",
	EQ: "==", NEQ: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=",
	OROR: "||", ANDAND: "&&", CONCAT: "<>",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	if kw, ok := keywordName(k); ok {
		return kw
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Keywords maps the literal spelling to its Kind, used by the lexer to
// decide whether an identifier-shaped lexeme is reserved.
var Keywords = map[string]Kind{
	"cell": KW_CELL, "record": KW_RECORD, "enum": KW_ENUM, "type": KW_TYPE,
	"trait": KW_TRAIT, "impl": KW_IMPL, "const": KW_CONST, "import": KW_IMPORT,
	"use": KW_USE, "tool": KW_TOOL, "grant": KW_GRANT, "bind": KW_BIND,
	"effect": KW_EFFECT, "handler": KW_HANDLER, "handle": KW_HANDLE, "with": KW_WITH,
	"agent": KW_AGENT, "memory": KW_MEMORY, "machine": KW_MACHINE,
	"pipeline": KW_PIPELINE, "orchestration": KW_ORCHESTRATION,
	"guardrail": KW_GUARDRAIL, "eval": KW_EVAL, "pattern": KW_PATTERN,
	"macro": KW_MACRO, "extern": KW_EXTERN, "let": KW_LET, "mut": KW_MUT,
	"if": KW_IF, "else": KW_ELSE, "when": KW_WHEN, "for": KW_FOR, "in": KW_IN,
	"while": KW_WHILE, "loop": KW_LOOP, "match": KW_MATCH, "return": KW_RETURN,
	"halt": KW_HALT, "emit": KW_EMIT, "defer": KW_DEFER, "yield": KW_YIELD,
	"break": KW_BREAK, "continue": KW_CONTINUE, "fn": KW_FN, "end": KW_END,
	"then": KW_THEN, "do": KW_DO, "is": KW_IS, "as": KW_AS, "and": KW_AND,
	"or": KW_OR, "not": KW_NOT, "null": KW_NULL, "true": KW_TRUE, "false": KW_FALSE,
	"perform": KW_PERFORM, "resume": KW_RESUME, "await": KW_AWAIT, "spawn": KW_SPAWN,
	"try": KW_TRY, "ok": KW_OK, "err": KW_ERR, "comptime": KW_COMPTIME,
	"where": KW_WHERE, "state": KW_STATE, "on_enter": KW_ON_ENTER,
	"transition": KW_TRANSITION, "stage": KW_STAGE, "to": KW_TO,
}

func keywordName(k Kind) (string, bool) {
	for s, kk := range Keywords {
		if kk == k {
			return s, true
		}
	}
	return "", false
}

// Token is one lexical unit with its source span.
type Token struct {
	Kind  Kind
	Text  string // raw or decoded lexeme (decoded for strings)
	Line  int
	Col   int
	Start int
	End   int
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%d:%d", t.Kind, t.Text, t.Line, t.Col)
}
