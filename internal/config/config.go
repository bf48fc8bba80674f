// Package config loads the mapping set from a YAML document via
// spf13/viper and validates it before handing an immutable,
// dense-indexed []mapping.Config to the engine supervisor. This is
// the loader collaborator named but left out of scope by the
// specification's core; it is implemented here so the repository runs
// end to end.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	libdur "github.com/nabbar/golib/duration"
	"github.com/spf13/viper"

	"github.com/syc2012/nptpd/internal/bridgerr"
	"github.com/syc2012/nptpd/internal/mapping"
)

// Row is the on-disk shape of one configured mapping entry.
type Row struct {
	Enable      bool   `mapstructure:"enable"`
	TCPPort     int    `mapstructure:"tcp_port"`
	PipeDir     string `mapstructure:"pipe_dir"`
	PipeName    string `mapstructure:"pipe_name"`
	Description string `mapstructure:"description"`

	// RetryIdle is parsed with the teacher's duration.Duration so that
	// operators may write "30s", "5m", or "1d12h" directly; empty
	// leaves reconnection entirely watcher-driven.
	RetryIdle string `mapstructure:"retry_idle"`
}

// File is the root document shape: a top-level "mappings" sequence.
type File struct {
	Mappings []Row `mapstructure:"mappings"`
}

// Load reads path (YAML, JSON and TOML all handled transparently by
// viper's format sniffing) and returns the validated, dense-indexed
// mapping set. An empty or invalid set is reported as
// bridgerr.ErrConfigInvalid.
func Load(path string) ([]mapping.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", bridgerr.ErrConfigInvalid, path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", bridgerr.ErrConfigInvalid, path, err)
	}

	return Validate(f.Mappings)
}

// Validate applies the §3/§6 invariants to a raw row set: rejects
// duplicate TCP ports, duplicate local paths, and a set with no
// enabled rows or more than mapping.MaxMappings enabled rows; returns
// the dense 0..N-1 indexed, enabled-only view.
func Validate(rows []Row) ([]mapping.Config, error) {
	var (
		out   = make([]mapping.Config, 0, len(rows))
		ports = make(map[int]struct{}, len(rows))
		paths = make(map[string]struct{}, len(rows))
	)

	for i, r := range rows {
		if !r.Enable {
			continue
		}

		if r.TCPPort < 1 || r.TCPPort > 65535 {
			return nil, fmt.Errorf("%w: row %d: tcp_port %d out of range", bridgerr.ErrConfigInvalid, i, r.TCPPort)
		}
		if strings.TrimSpace(r.PipeDir) == "" || strings.TrimSpace(r.PipeName) == "" {
			return nil, fmt.Errorf("%w: row %d: empty pipe_dir or pipe_name", bridgerr.ErrConfigInvalid, i)
		}

		if _, dup := ports[r.TCPPort]; dup {
			return nil, fmt.Errorf("%w: duplicate tcp_port %d", bridgerr.ErrConfigInvalid, r.TCPPort)
		}
		ports[r.TCPPort] = struct{}{}

		path := filepath.Join(r.PipeDir, r.PipeName)
		if _, dup := paths[path]; dup {
			return nil, fmt.Errorf("%w: duplicate pipe path %s", bridgerr.ErrConfigInvalid, path)
		}
		paths[path] = struct{}{}

		var retry libdur.Duration
		if strings.TrimSpace(r.RetryIdle) != "" {
			d, err := libdur.Parse(r.RetryIdle)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: retry_idle %q: %v", bridgerr.ErrConfigInvalid, i, r.RetryIdle, err)
			}
			retry = d
		}

		out = append(out, mapping.Config{
			Index:       len(out),
			TCPPort:     uint16(r.TCPPort),
			PipeDir:     r.PipeDir,
			PipeName:    r.PipeName,
			Description: r.Description,
			RetryIdle:   retry,
		})

		if len(out) > mapping.MaxMappings {
			return nil, fmt.Errorf("%w: more than %d enabled mappings", bridgerr.ErrConfigInvalid, mapping.MaxMappings)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: mapping set is empty", bridgerr.ErrConfigInvalid)
	}

	return out, nil
}
