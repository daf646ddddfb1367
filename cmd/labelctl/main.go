package main

import (
	"fmt"
	"os"

	"labelgate/backend/cmd/labelctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
