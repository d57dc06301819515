package runner_test

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/treebf/bf"
	"github.com/MarcinKonowalczyk/treebf/runner"
	"github.com/MarcinKonowalczyk/treebf/utils"
)

const hello = "++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++."

func writeFile(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

// failingReader fails the test if the runner touches stdin
type failingReader struct {
	t *testing.T
}

func (r failingReader) Read(p []byte) (int, error) {
	r.t.Error("stdin should not be read")
	return 0, errors.New("unexpected read")
}

func TestExecute_HelloWorld(t *testing.T) {
	file := writeFile(t, t.TempDir(), "hello.bf", hello)
	var stdout bytes.Buffer
	err := runner.Execute(context.Background(), runner.Options{File: file}, failingReader{t}, &stdout)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stdout.String(), "Hello World!\n")
}

func TestExecute_CRLF(t *testing.T) {
	file := writeFile(t, t.TempDir(), "hello.bf", hello)
	var stdout bytes.Buffer
	err := runner.Execute(context.Background(), runner.Options{File: file, CRLF: true}, nil, &stdout)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stdout.String(), "Hello World!\r\n")
}

func TestExecute_Stdin(t *testing.T) {
	file := writeFile(t, t.TempDir(), "echo.bf", ",+[-.,+]")
	var stdout bytes.Buffer
	stdin := strings.NewReader("Good luck\xff")
	err := runner.Execute(context.Background(), runner.Options{File: file}, stdin, &stdout)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stdout.String(), "Good luck")
}

func TestExecute_InputFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "echo.bf", ",[.,]")
	input := writeFile(t, dir, "input.txt", "from file\x00")
	var stdout bytes.Buffer
	err := runner.Execute(context.Background(), runner.Options{File: file, Input: input}, failingReader{t}, &stdout)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stdout.String(), "from file")
}

func TestExecute_NoOutputOnError(t *testing.T) {
	file := writeFile(t, t.TempDir(), "bad.bf", "+.+.<")
	var stdout bytes.Buffer
	err := runner.Execute(context.Background(), runner.Options{File: file}, nil, &stdout)
	utils.AssertErrorIs(t, err, bf.ErrBackwardBoundaryUnderflow)
	utils.AssertEqual(t, stdout.Len(), 0)
	utils.AssertEqual(t, runner.ExitCode(err), runner.ExitRuntime)
}

func TestExecute_ParseError(t *testing.T) {
	file := writeFile(t, t.TempDir(), "bad.bf", "[[")
	err := runner.Execute(context.Background(), runner.Options{File: file}, nil, &bytes.Buffer{})
	utils.AssertErrorIs(t, err, bf.ErrUnterminatedLoop)
	utils.AssertEqual(t, runner.ExitCode(err), runner.ExitParse)
}

func TestExecute_MissingFile(t *testing.T) {
	err := runner.Execute(context.Background(), runner.Options{File: filepath.Join(t.TempDir(), "nope.bf")}, nil, &bytes.Buffer{})
	utils.AssertErrorIs(t, err, os.ErrNotExist)
	utils.AssertEqual(t, runner.ExitCode(err), runner.ExitFailure)
}

func TestExecute_NoProgram(t *testing.T) {
	err := runner.Execute(context.Background(), runner.Options{}, nil, &bytes.Buffer{})
	utils.AssertErrorIs(t, err, runner.ErrNoProgram)
}

func TestExitCode(t *testing.T) {
	utils.AssertEqual(t, runner.ExitCode(nil), runner.ExitOK)
	utils.AssertEqual(t, runner.ExitCode(errors.New("boom")), runner.ExitFailure)
}

func TestWriteOutput(t *testing.T) {
	var out bytes.Buffer
	utils.AssertNoError(t, runner.WriteOutput(&out, []byte("a\nb\n"), true))
	utils.AssertEqual(t, out.String(), "a\r\nb\r\n")

	out.Reset()
	utils.AssertNoError(t, runner.WriteOutput(&out, []byte("a\nb\n"), false))
	utils.AssertEqual(t, out.String(), "a\nb\n")
}

func TestReadProgram(t *testing.T) {
	file := writeFile(t, t.TempDir(), "prog.bf", "a [ b ]")
	source, err := runner.ReadProgram(runner.Options{File: file})
	utils.AssertNoError(t, err)
	utils.AssertEqualBytes(t, source, []byte("a [ b ]"))

	_, err = runner.ReadProgram(runner.Options{})
	utils.AssertErrorIs(t, err, runner.ErrNoProgram)

	_, err = runner.ReadProgram(runner.Options{File: filepath.Join(t.TempDir(), "nope.bf")})
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}

func TestReadInput_Dash(t *testing.T) {
	data, err := runner.ReadInput(runner.Options{Input: "-"}, strings.NewReader("xyz"))
	utils.AssertNoError(t, err)
	utils.AssertEqualBytes(t, data, []byte("xyz"))
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, runner.ManifestFilename, `
[program]
entry = "hello.bf"

[io]
input = "input.txt"
crlf = true
`)
	m, err := runner.LoadManifest(path)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, m.Program.Entry, "hello.bf")
	utils.AssertEqual(t, m.IO.Input, "input.txt")
	utils.AssertEqual(t, m.IO.CRLF, true)

	abs, err := filepath.Abs(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, m.Dir, abs)
}

func TestLoadManifest_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), runner.ManifestFilename, "[program\nentry = ")
	_, err := runner.LoadManifest(path)
	utils.AssertError(t, err)
}

func TestConfigure_FlagsOverrideManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hello.bf", hello)
	manifest := writeFile(t, dir, runner.ManifestFilename, `
[program]
entry = "hello.bf"

[io]
input = "input.txt"
crlf = true
`)

	var opts runner.Options
	fs := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	opts.RegisterFlags(fs)
	utils.AssertNoError(t, fs.Parse([]string{"-config", manifest, "-input", "other.txt"}))

	opts, err := runner.Configure(fs, opts)
	utils.AssertNoError(t, err)

	abs, err := filepath.Abs(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, opts.File, filepath.Join(abs, "hello.bf"))
	utils.AssertEqual(t, opts.Input, "other.txt")
	utils.AssertEqual(t, opts.CRLF, true)
}

func TestConfigure_MissingManifest(t *testing.T) {
	var opts runner.Options
	fs := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	opts.RegisterFlags(fs)
	utils.AssertNoError(t, fs.Parse([]string{"-config", filepath.Join(t.TempDir(), "missing.toml")}))

	_, err := runner.Configure(fs, opts)
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}
