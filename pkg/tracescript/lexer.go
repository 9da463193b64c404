package tracescript

import "github.com/alecthomas/participle/v2/lexer"

// Lexer tokenizes trace scripts. Durations must be tried before plain
// numbers so "10us" is one token.
var Lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Duration", Pattern: `\d+(?:\.\d+)?(?:ns|us|ms|s)`},
	{Name: "Hex", Pattern: `0[xX][0-9a-fA-F]+`},
	{Name: "Number", Pattern: `\d+`},
	{Name: "String", Pattern: `"[^"\n]*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `[=,]`},
})
