package maincmd

import (
	"context"
	"fmt"

	"github.com/crustyvm/crustyvm/internal/stdhost"
	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/mna/mainer"
)

// Tokenize runs the tokenizer/includer alone and prints the resulting
// Line stream, one source line per output line with its tokens joined by
// single spaces, the assembly-language counterpart of the teacher's own
// Tokenize subcommand.
func (c *Cmd) Tokenize(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, TokenizeFile(stdio, args[0]))
}

// TokenizeFile tokenizes path and prints every resulting Line.
func TokenizeFile(stdio mainer.Stdio, path string) error {
	a := arena.New()
	var sp stdhost.SafePath
	tz := &lexer.Tokenizer{Arena: a, SafePath: sp.Resolve}
	lines, err := tz.TokenizeFile(path)
	if err != nil {
		return fmt.Errorf("tokenize: %w", err)
	}
	for _, l := range lines {
		fmt.Fprintf(stdio.Stdout, "%s:%d:", l.Module, l.SourceLine)
		for _, h := range l.Tokens {
			fmt.Fprintf(stdio.Stdout, " %s", a.String(h))
		}
		fmt.Fprintln(stdio.Stdout)
	}
	return nil
}
