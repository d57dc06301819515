package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"

	"github.com/MarcinKonowalczyk/treebf/runner"
)

const configFilename = "config.json"

// The parts of the OCI runtime spec the shim looks at.
type ociSpec struct {
	Root struct {
		// Path is the rootfs, absolute or relative to the bundle
		Path string `json:"path"`
	} `json:"root"`
	Process struct {
		Args []string `json:"args"`
	} `json:"process"`
}

// Bundle is a container bundle resolved to a brainfuck program.
type Bundle struct {
	Rootfs     string
	Entrypoint string
	// Manifest is the brainfuck.toml at the root of the rootfs, or empty
	Manifest string
}

func isProgramFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".bf" || ext == ".brainfuck"
}

// ReadBundle reads config.json from the bundle directory. The entry point is
// the single CMD argument or, without one, the entry of the rootfs manifest.
func ReadBundle(dir string) (*Bundle, error) {
	filePath := filepath.Join(dir, configFilename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", configFilename, err)
	}

	if spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}

	b := &Bundle{Rootfs: spec.Root.Path}
	if !filepath.IsAbs(b.Rootfs) {
		b.Rootfs = filepath.Join(dir, b.Rootfs)
	}

	manifest := filepath.Join(b.Rootfs, runner.ManifestFilename)
	if _, err := os.Stat(manifest); err == nil {
		b.Manifest = manifest
	}

	switch len(spec.Process.Args) {
	case 1:
		b.Entrypoint = spec.Process.Args[0]
	case 0:
		if b.Manifest == "" {
			return nil, fmt.Errorf("no CMD and no %s in the rootfs: %w", runner.ManifestFilename, errdefs.ErrInvalidArgument)
		}
		m, err := runner.LoadManifest(b.Manifest)
		if err != nil {
			return nil, err
		}
		if m.Program.Entry == "" {
			return nil, fmt.Errorf("no CMD and no [program] entry in %s: %w", runner.ManifestFilename, errdefs.ErrInvalidArgument)
		}
		b.Entrypoint = m.Program.Entry
	default:
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d: %w", len(spec.Process.Args), errdefs.ErrInvalidArgument)
	}

	if !isProgramFile(b.Entrypoint) {
		return nil, fmt.Errorf("entry point (%s) is not a .bf file: %w", b.Entrypoint, errdefs.ErrInvalidArgument)
	}

	if _, err := os.Stat(b.Program()); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", b.Entrypoint, err)
		}
		return nil, fmt.Errorf("checking script %s: %w", b.Entrypoint, err)
	}

	return b, nil
}

// Program is the full path of the entry point.
func (b *Bundle) Program() string {
	return filepath.Join(b.Rootfs, b.Entrypoint)
}

// Args are the arguments, after the "brainfuck" token, that run the bundle
// with the shim binary.
func (b *Bundle) Args() []string {
	args := []string{"-file", b.Program()}
	if b.Manifest != "" {
		args = append(args, "-config", b.Manifest)
	}
	return args
}
