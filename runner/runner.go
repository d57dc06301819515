package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/treebf/bf"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/treebf/runner.debug=true'"`
var debug string

// Process exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitParse   = 2
	ExitRuntime = 3
)

var ErrNoProgram = errors.New("no program file given")

func configureLogging(o Options) error {
	if o.Debug || debug != "" {
		return log.SetLevel("debug")
	}
	return nil
}

// ExitCode maps the error returned by Execute to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, bf.ErrParse):
		return ExitParse
	case errors.Is(err, bf.ErrRuntime):
		return ExitRuntime
	default:
		return ExitFailure
	}
}

// ReadProgram reads the program source named by o.File.
func ReadProgram(o Options) ([]byte, error) {
	if o.File == "" {
		return nil, ErrNoProgram
	}
	source, err := os.ReadFile(o.File)
	if err != nil {
		return nil, fmt.Errorf("reading program %s: %w", o.File, err)
	}
	return source, nil
}

// ReadInput collects the whole program input up front. stdin is only used
// when no input file is configured.
func ReadInput(o Options, stdin io.Reader) ([]byte, error) {
	if o.Input != "" && o.Input != "-" {
		data, err := os.ReadFile(o.Input)
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", o.Input, err)
		}
		return data, nil
	}
	if stdin == nil {
		return nil, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return data, nil
}

// WriteOutput writes the program output, optionally as CRLF. Docker
// terminals in raw mode need the carriage return.
func WriteOutput(w io.Writer, output []byte, crlf bool) error {
	if crlf {
		output = bytes.ReplaceAll(output, []byte("\n"), []byte("\r\n"))
	}
	if _, err := w.Write(output); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	return nil
}

// Execute runs the program file described by o. Nothing is written to
// stdout unless the whole program succeeds.
func Execute(ctx context.Context, o Options, stdin io.Reader, stdout io.Writer) error {
	source, err := ReadProgram(o)
	if err != nil {
		return err
	}

	program, err := bf.Build(source)
	if err != nil {
		return fmt.Errorf("%s: %w", o.File, err)
	}

	logger := log.G(ctx).WithField("file", o.File)
	logger.WithFields(log.Fields{
		"bytes":        len(source),
		"instructions": program.Count(),
		"depth":        program.Depth(),
	}).Debug("program built")

	var input []byte
	if program.Reads() {
		if input, err = ReadInput(o, stdin); err != nil {
			return err
		}
		logger.Debugf("read %d input bytes", len(input))
	}

	output, err := bf.Run(program, input)
	if err != nil {
		return fmt.Errorf("%s: %w", o.File, err)
	}
	logger.Debugf("program finished with %d output bytes", len(output))

	return WriteOutput(stdout, output, o.CRLF)
}
