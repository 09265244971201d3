package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mensylisir/remotexec/pkg/common"
)

// Format is the encoding of a configuration file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format by file extension. Anything other than
// .toml is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads the configuration file at path, sets default values and
// validates it.
func Load(path string) (*File, error) {
	if path == "" {
		return nil, common.ConfigurationError("load config", "configuration file path cannot be empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.Wrap(common.KindConfiguration, "load config", errors.Wrapf(err, "failed to read config file '%s'", path))
	}
	return LoadFromBytes(data, FormatFromPath(path))
}

// LoadFromBytes is the core of Load.
func LoadFromBytes(data []byte, format Format) (*File, error) {
	var cfg File
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &cfg)
	case FormatYAML, "":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return nil, common.ConfigurationError("load config", "unsupported config format %q", format)
	}
	if err != nil {
		return nil, common.Wrap(common.KindConfiguration, "load config", errors.Wrapf(err, "failed to unmarshal %s config", format))
	}

	SetDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
