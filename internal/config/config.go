// Package config resolves generator options from a config file, command line
// overrides and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/agentic-research/markov/api"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that fill storage credentials left empty in the
// config file.
const (
	EnvStoragePassword = "MARKOV_STORAGE_PASSWORD"
	EnvStorageEndpoint = "MARKOV_STORAGE_ENDPOINT"
	EnvStorageUser     = "MARKOV_STORAGE_USER"
)

// Load decodes the config file at path. The format follows the extension:
// .yaml/.yml is YAML, everything else (.toml, .conf, .ini) is TOML. Unknown
// keys are rejected.
func Load(path string) (*api.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", api.ErrConfig, err)
	}
	opts := &api.Options{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(opts); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: parse %s: %w", api.ErrConfig, path, err)
		}
	default:
		md, err := toml.Decode(string(data), opts)
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", api.ErrConfig, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: %s: unknown option %q", api.ErrConfig, path, undecoded[0].String())
		}
	}
	return opts, nil
}

// ApplyOverrides sets options from key=value pairs. Keys are the config file
// keys, with storage fields written as storage.<key>. A value wrapped in
// double quotes has C escapes decoded.
func ApplyOverrides(opts *api.Options, overrides []string) error {
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%w: override %q is not key=value", api.ErrConfig, kv)
		}
		key = strings.TrimSpace(key)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			var err error
			if value, err = Unescape(value[1 : len(value)-1]); err != nil {
				return fmt.Errorf("option %s: %w", key, err)
			}
		}
		if err := set(opts, key, value); err != nil {
			return err
		}
	}
	return nil
}

func set(o *api.Options, key, value string) error {
	st := &o.Storage
	var err error
	switch key {
	case "iter":
		o.Iter = value
	case "prefixmiddle":
		o.PrefixMiddle = value
	case "separator":
		o.Separator = value
	case "N", "n":
		o.N, err = strconv.Atoi(value)
	case "maxgen":
		o.MaxGen, err = strconv.ParseUint(value, 10, 64)
	case "splitstr":
		o.SplitStr, err = strconv.ParseBool(value)
	case "rndstart":
		o.RndStart, err = strconv.ParseBool(value)
	case "storage.endpoint":
		st.Endpoint = value
	case "storage.user":
		st.User = value
	case "storage.password":
		st.Password = value
	case "storage.database":
		st.Database = value
	case "storage.table":
		st.Table = value
	case "storage.dict_table":
		st.DictTable = value
	case "storage.index":
		st.Index, err = strconv.ParseBool(value)
	case "storage.transactions":
		st.Transactions, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("%w: unknown option %q", api.ErrConfig, key)
	}
	if err != nil {
		return fmt.Errorf("%w: option %s: %w", api.ErrConfig, key, err)
	}
	return nil
}

// ApplyEnv loads a .env file from the working directory when present and
// fills empty storage credentials from the environment.
func ApplyEnv(opts *api.Options) {
	_ = godotenv.Load()
	fill := func(dst *string, name string) {
		if *dst == "" {
			*dst = os.Getenv(name)
		}
	}
	fill(&opts.Storage.Endpoint, EnvStorageEndpoint)
	fill(&opts.Storage.User, EnvStorageUser)
	fill(&opts.Storage.Password, EnvStoragePassword)
}

// Resolve builds the effective options: config file (optional), overrides,
// environment, defaults, then validation.
func Resolve(path string, overrides []string) (*api.Options, error) {
	opts := &api.Options{}
	if path != "" {
		var err error
		if opts, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyOverrides(opts, overrides); err != nil {
		return nil, err
	}
	ApplyEnv(opts)
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}
