package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/motiumsync/internal/client/cli"
)

func main() {
	if err := cli.NewRootCommand(nil).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
