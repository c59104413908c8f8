// Package config holds the machine configuration, read from a YAML file.
package config

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StorageMem  = "mem"
	StorageHost = "host"
)

var ErrBadConfig = errors.New("invalid configuration")

type Config struct {
	// Storage selects the file store: "mem" or "host".
	Storage string `yaml:"storage"`

	// HostRoot is the directory backing a "host" store.
	HostRoot string `yaml:"host_root"`

	// Image is an optional tar archive loaded into the store at boot.
	Image string `yaml:"image"`

	ExecSuffix      string `yaml:"exec_suffix"`
	LoaderCacheSize int    `yaml:"loader_cache_size"`

	// MaxThreads bounds how many processes may run at once. Zero means
	// no bound.
	MaxThreads int `yaml:"max_threads"`

	LogLevel string `yaml:"log_level"`

	Init string   `yaml:"init"`
	Args []string `yaml:"args"`
}

func Default() *Config {
	return &Config{
		Storage:         StorageMem,
		ExecSuffix:      ".coff",
		LoaderCacheSize: 100,
		LogLevel:        "info",
		Init:            "fdtest.coff",
	}
}

// Read decodes YAML from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()

	d := yaml.NewDecoder(r)
	d.KnownFields(true)

	if err := d.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decoding config")
	}

	return cfg, cfg.Validate()
}

func ReadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Read(file)
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMem:
	case StorageHost:
		if c.HostRoot == "" {
			return errors.Wrap(ErrBadConfig, "host storage needs host_root")
		}
	default:
		return errors.Wrapf(ErrBadConfig, "unknown storage %q", c.Storage)
	}

	if c.ExecSuffix == "" {
		return errors.Wrap(ErrBadConfig, "exec_suffix is empty")
	}

	if c.MaxThreads < 0 {
		return errors.Wrapf(ErrBadConfig, "max_threads %d", c.MaxThreads)
	}

	if c.Init == "" {
		return errors.Wrap(ErrBadConfig, "no init program")
	}

	return nil
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
