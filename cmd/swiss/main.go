// Command swiss runs AI review workflows over text and diffs.
//
// Usage:
//
//	git diff | swiss review --diff
//	swiss review -w security < notes.md
//	swiss config
package main

import (
	"context"
	"os"

	"github.com/dshills/swiss/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
