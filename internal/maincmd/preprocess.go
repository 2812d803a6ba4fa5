package maincmd

import (
	"context"
	"fmt"

	"github.com/crustyvm/crustyvm/internal/stdhost"
	"github.com/crustyvm/crustyvm/lang/arena"
	"github.com/crustyvm/crustyvm/lang/lexer"
	"github.com/crustyvm/crustyvm/lang/preprocess"
	"github.com/mna/mainer"
)

// Preprocess runs the tokenizer followed by the macro/expr/if
// preprocessor and prints the resulting line stream.
func (c *Cmd) Preprocess(ctx context.Context, stdio mainer.Stdio, args []string) error {
	return printError(stdio, PreprocessFile(stdio, args[0], c.defineMap(), c.StrictMacros))
}

// PreprocessFile tokenizes and preprocesses path, printing every line left
// after the fixed-point iteration.
func PreprocessFile(stdio mainer.Stdio, path string, defines map[string]string, strictMacros bool) error {
	a := arena.New()
	var sp stdhost.SafePath
	tz := &lexer.Tokenizer{Arena: a, SafePath: sp.Resolve}
	lines, err := tz.TokenizeFile(path)
	if err != nil {
		return fmt.Errorf("tokenize: %w", err)
	}

	pp := preprocess.New(a, defines)
	pp.StrictMacroExpansion = strictMacros
	lines, err = pp.Run(lines)
	if err != nil {
		return fmt.Errorf("preprocess: %w", err)
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
