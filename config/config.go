// Package config loads the YAML file shared by the passport binaries.
//
//	signature_algorithm: ed25519
//	kdf: {time: 2, memory_kb: 65536, threads: 1}
//	smid_appendix: surrogate
//	locator:
//	  path: ~/.passport/locator.db
//	cas:
//	  backends:
//	    - name: localfs
//	      config: {localfs-dir: ~/.passport/cas}
//	log: {level: info, format: text}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"xdao.co/passport/internal/logutil"
	"xdao.co/passport/passport"
	"xdao.co/passport/pki"
	"xdao.co/passport/storage/casconfig"
)

// Config is the whole file. Zero fields are invalid; start from Default.
type Config struct {
	SignatureAlgorithm string           `yaml:"signature_algorithm"`
	KDF                pki.KDFParams    `yaml:"kdf"`
	SmidAppendix       string           `yaml:"smid_appendix"`
	Locator            Locator          `yaml:"locator"`
	CAS                casconfig.Config `yaml:"cas"`
	Log                Log              `yaml:"log"`
}

// Locator places the SQLite directory holding Mid and Smid records.
type Locator struct {
	Path string `yaml:"path"`
}

// Log selects the slog level ("debug", "info", ...) and format ("text" or
// "json").
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config rooted at home: a local filesystem CAS and a
// locator database side by side.
func Default(home string) Config {
	return Config{
		SignatureAlgorithm: string(pki.DefaultAlgorithm),
		KDF:                pki.DefaultKDFParams(),
		SmidAppendix:       passport.DefaultSmidAppendix,
		Locator:            Locator{Path: filepath.Join(home, "locator.db")},
		CAS: casconfig.Config{
			WritePolicy: casconfig.WriteFirst,
			Backends: []casconfig.BackendConfig{{
				Name:   "localfs",
				Config: map[string]string{"localfs-dir": filepath.Join(home, "cas")},
			}},
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path over Default(home). Fields absent from the file keep their
// defaults; unknown fields are an error.
func Load(path, home string) (Config, error) {
	cfg := Default(home)
	if path == "" {
		return cfg, cfg.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return parse(b, cfg)
}

// Parse decodes b over Default(home).
func Parse(b []byte, home string) (Config, error) {
	return parse(b, Default(home))
}

func parse(b []byte, cfg Config) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Locator.Path = expandHome(cfg.Locator.Path)
	for i := range cfg.CAS.Backends {
		for k, v := range cfg.CAS.Backends[i].Config {
			cfg.CAS.Backends[i].Config[k] = expandHome(v)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks every section, including the embedded CAS config. Backend
// names are not resolved until the CAS is opened.
func (c Config) Validate() error {
	if _, err := pki.ParseAlgorithm(c.SignatureAlgorithm); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.SmidAppendix == "" {
		return errors.New("config: smid_appendix must not be empty")
	}
	if c.Locator.Path == "" {
		return errors.New("config: locator.path is required")
	}
	if err := c.CAS.Validate(); err != nil {
		return err
	}
	if _, err := logutil.New(c.Log.Level, c.Log.Format, io.Discard); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// PassportOptions converts the passport settings into passport.New options.
func (c Config) PassportOptions() ([]passport.Option, error) {
	alg, err := pki.ParseAlgorithm(c.SignatureAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return []passport.Option{
		passport.WithAlgorithm(alg),
		passport.WithKDF(c.KDF),
		passport.WithSmidAppendix(c.SmidAppendix),
	}, nil
}

// Logger builds the configured logger writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	return logutil.New(c.Log.Level, c.Log.Format, w)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
