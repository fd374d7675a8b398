package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = ""
	GitRevision = ""
)

// Read reads a config from the given file. Environment variable references
// ($VAR and ${VAR}) are expanded before parsing.
func Read(ctx context.Context, filePath string, logger golog.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if
// applicable, the file the reader originated from. Unknown fields are
// rejected so typos surface instead of silently configuring nothing.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger golog.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config from json")
	}
	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
