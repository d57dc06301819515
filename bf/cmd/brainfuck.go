package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/treebf/runner"
)

var cliOptions runner.Options

func init() {
	cliOptions.RegisterFlags(flag.CommandLine)
}

func main() {
	flag.Parse()
	ctx := context.Background()

	opts, err := runner.Configure(flag.CommandLine, cliOptions)
	if err != nil {
		log.G(ctx).WithError(err).Error("invalid configuration")
		os.Exit(runner.ExitFailure)
	}

	if opts.File == "" {
		fmt.Println("Please provide a filename using the -file flag.")
		os.Exit(runner.ExitFailure)
	}

	err = runner.Execute(ctx, opts, os.Stdin, os.Stdout)
	if err != nil {
		log.G(ctx).WithError(err).Error("brainfuck failed")
	}
	os.Exit(runner.ExitCode(err))
}
