package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/g960059/mate/internal/cli"
	"github.com/g960059/mate/internal/config"
)

func main() {
	cfg, err := config.Load(config.OSEnvironment())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitConfig)
	}
	r := cli.NewRunner(cfg, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), filepath.Base(os.Args[0]), os.Args[1:]))
}
