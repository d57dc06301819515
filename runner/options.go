package runner

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestFilename is looked up next to the entry point by the shim.
const ManifestFilename = "brainfuck.toml"

// Options configure a single run of a program file.
type Options struct {
	// File is the program source
	File string
	// Input is a file whose contents are the program input. Empty or "-"
	// means stdin.
	Input string
	// CRLF rewrites "\n" to "\r\n" in the program output
	CRLF   bool
	Config string
	Debug  bool
}

func (o *Options) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.File, "file", "", "brainfuck source file")
	fs.StringVar(&o.Input, "input", "", "file to read program input from (default stdin)")
	fs.BoolVar(&o.CRLF, "crlf", false, "write \\r\\n for every \\n in the program output")
	fs.StringVar(&o.Config, "config", "", "path to a "+ManifestFilename+" run manifest")
	fs.BoolVar(&o.Debug, "debug", false, "enable debug logging")
}

// Manifest is the contents of a brainfuck.toml file.
//
//	[program]
//	entry = "hello.bf"
//
//	[io]
//	input = "input.txt"
//	crlf = true
type Manifest struct {
	Program ProgramSection `toml:"program"`
	IO      IOSection      `toml:"io"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `toml:"-"`
}

type ProgramSection struct {
	Entry string `toml:"entry"`
}

type IOSection struct {
	Input string `toml:"input"`
	CRLF  bool   `toml:"crlf"`
}

// LoadManifest parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return &m, nil
}

// resolve makes p relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || p == "-" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Merge fills in every option that was not set explicitly (as reported by
// set) from the manifest.
func (o Options) Merge(m *Manifest, set map[string]bool) Options {
	if m == nil {
		return o
	}
	if !set["file"] && m.Program.Entry != "" {
		o.File = m.resolve(m.Program.Entry)
	}
	if !set["input"] && m.IO.Input != "" {
		o.Input = m.resolve(m.IO.Input)
	}
	if !set["crlf"] {
		o.CRLF = m.IO.CRLF
	}
	return o
}

// Configure finishes option parsing once fs has been parsed: it applies the
// manifest named by -config and sets up logging.
func Configure(fs *flag.FlagSet, o Options) (Options, error) {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if o.Config != "" {
		m, err := LoadManifest(o.Config)
		if err != nil {
			return o, err
		}
		o = o.Merge(m, set)
	}

	if err := configureLogging(o); err != nil {
		return o, err
	}
	return o, nil
}
