package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/treebf/runner"
	bf_shim "github.com/MarcinKonowalczyk/treebf/shim"
)

const runtimeName = "io.containerd.bf.v1"

func main() {
	// Maybe hijack the shim to run as brainfuck interpreter. A program gets
	// the default signal disposition so that SIGINT and SIGTERM stop it.
	brainfuck, args := isBrainfuckArg(os.Args[1:])
	if brainfuck {
		ctx := context.Background()
		err := runBrainfuck(ctx, args)
		if err != nil {
			log.G(ctx).WithError(err).Error("brainfuck failed")
		}
		os.Exit(runner.ExitCode(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	shim.Run(ctx, bf_shim.NewManager(runtimeName))
}

func isBrainfuckArg(args []string) (bool, []string) {
	for i, arg := range args {
		if arg == "brainfuck" {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			return true, append(rest, args[i+1:]...)
		}
	}
	return false, args
}

func parseBrainfuckFlags(args []string) (runner.Options, error) {
	var opts runner.Options
	fs := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	opts.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return runner.Configure(fs, opts)
}

func runBrainfuck(ctx context.Context, args []string) error {
	opts, err := parseBrainfuckFlags(args)
	if err != nil {
		return err
	}

	if opts.File == "" {
		return fmt.Errorf("invalid argument: -file is required")
	}

	return runner.Execute(ctx, opts, os.Stdin, os.Stdout)
}
