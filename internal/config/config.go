// Package config loads suremd settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eykd/suremd-go/internal/engine"
	"github.com/eykd/suremd-go/internal/fence"
	"github.com/eykd/suremd-go/internal/runner"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = ".suremd.yml"

// Config holds every setting that can also be given on the command line.
type Config struct {
	// BuildDir is the directory commands run under.
	BuildDir string `yaml:"build_dir"`
	// SingleDir runs all documents in BuildDir itself.
	SingleDir bool `yaml:"single_dir"`
	// StopOnError skips the rest of a document after a failed block.
	StopOnError bool `yaml:"stop_on_error"`
	// FailFast skips remaining documents after a failed one.
	FailFast bool `yaml:"fail_fast"`
	// Format lists file extensions to check with external formatters, or "all".
	Format Extensions `yaml:"format"`
	// FileMarker is the keyword of file markers ("File" in "# File: a.py").
	FileMarker string `yaml:"file_marker"`
	// Shell runs console commands as "<shell> -c <script>".
	Shell string `yaml:"shell"`
	// Timeout bounds each command as a Go duration; "0" or empty disables it.
	Timeout string `yaml:"timeout"`
}

// Extensions is the format setting. It decodes from a YAML list or from a
// comma-separated scalar such as "all" or "py, go".
type Extensions []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *Extensions) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		list := Extensions{}
		for _, ext := range strings.Split(value.Value, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				list = append(list, ext)
			}
		}
		*e = list
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*e = list
	return nil
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BuildDir:    "build",
		StopOnError: true,
		Format:      Extensions{},
		FileMarker:  fence.DefaultMarkerKeyword,
		Shell:       runner.DefaultShell,
		Timeout:     "0",
	}
}

// Load reads path over the defaults. A missing file is not an error; found
// reports whether it existed.
func Load(path string) (cfg Config, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err = Parse(data)
	if err != nil {
		return Config{}, true, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, true, nil
}

// Parse decodes YAML over the defaults. Keys not in Config are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

var markerKeywordRE = regexp.MustCompile(`^\w+$`)

// Validate checks that the settings are usable.
func (c Config) Validate() error {
	if c.BuildDir == "" {
		return errors.New("build_dir must not be empty")
	}
	if !markerKeywordRE.MatchString(c.FileMarker) {
		return fmt.Errorf("file_marker %q must be a single word", c.FileMarker)
	}
	if c.Shell == "" {
		return errors.New("shell must not be empty")
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses Timeout. Empty means no timeout.
func (c Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout %s must not be negative", c.Timeout)
	}
	return d, nil
}

// Engine returns the engine settings.
func (c Config) Engine() engine.Config {
	return engine.Config{
		BuildDir:      c.BuildDir,
		SingleDir:     c.SingleDir,
		StopOnError:   c.StopOnError,
		FailFast:      c.FailFast,
		MarkerKeyword: c.FileMarker,
	}
}

// Marshal renders c as a commented configuration file.
func Marshal(c Config) ([]byte, error) {
	body, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append([]byte("# suremd configuration\n"), body...), nil
}
