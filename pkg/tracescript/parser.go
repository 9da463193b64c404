package tracescript

import (
	"fmt"
	"io"

	"github.com/alecthomas/participle/v2"
)

// Parser parses trace scripts.
type Parser struct {
	parser *participle.Parser[Script]
}

// NewParser creates a parser instance.
func NewParser() (*Parser, error) {
	parser, err := participle.Build[Script](
		participle.Lexer(Lexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("tracescript: build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

// Parse parses a script read from r. name is used in error positions.
func (p *Parser) Parse(name string, r io.Reader) (*Script, error) {
	s, err := p.parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("tracescript: %w", err)
	}
	return s, nil
}

// ParseString parses a script held in memory.
func (p *Parser) ParseString(input string) (*Script, error) {
	s, err := p.parser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("tracescript: %w", err)
	}
	return s, nil
}
