// Package main provides the flowline admin CLI.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	err := NewApp().Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "flowline:", err)
		os.Exit(1)
	}
}
