// Package config handles host configuration for the vault engine: which
// ObjectStore backend to use, where its data lives, and the Argon2id
// costs new vaults are created with. It never carries a vault password or
// key — those are supplied out-of-band by the caller at Unlock/Create time.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds the engine host configuration.
type Config struct {
	Backend        string `koanf:"backend" validate:"required,oneof=fs s3"`
	DataDir        string `koanf:"data_dir" validate:"required_if=Backend fs,omitempty,custom_path"`
	S3Bucket       string `koanf:"s3_bucket" validate:"required_if=Backend s3"`
	S3Region       string `koanf:"s3_region"`
	S3Endpoint     string `koanf:"s3_endpoint"`
	KDFMemoryKiB   uint32 `koanf:"kdf_memory_kib" validate:"required,gte=8192"`
	KDFTime        uint32 `koanf:"kdf_time" validate:"required,gt=0"`
	KDFParallelism uint8  `koanf:"kdf_parallelism" validate:"required,gt=0"`
	LogLevel       string `koanf:"log_level" validate:"required,oneof=debug info warn error"`
}

// DefaultConfig provides the default engine host configuration values.
var DefaultConfig = Config{
	Backend:        "fs",
	DataDir:        "/data/axiomvault",
	KDFMemoryKiB:   64 * 1024,
	KDFTime:        3,
	KDFParallelism: 1,
	LogLevel:       "info",
}

// defaultLoader loads DefaultConfig into k using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultConfig, "koanf"), nil)
}

// envLoader loads environment variables prefixed AXIOMVAULT_, lower-cased
// with the prefix stripped. Can be swapped in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{Prefix: "AXIOMVAULT_", TransformFunc: func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, "AXIOMVAULT_"))
		return key, strings.TrimSpace(value)
	}}), nil)
}

// validDirNotExists checks that the provided value is a directory path, but
// does not ensure it exists. It disallows empty paths, ".", the root
// directory, and paths that traverse upwards (contain "..").
func validDirNotExists(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return false
	}
	cleaned := filepath.Clean(raw)
	if cleaned == "." || cleaned == string(os.PathSeparator) {
		return false
	}
	for _, part := range strings.Split(cleaned, string(os.PathSeparator)) {
		if part == ".." {
			return false
		}
	}
	return true
}

// registerValidators registers custom validation functions with v.
var registerValidators = func(v *validator.Validate) error {
	return v.RegisterValidation("custom_path", validDirNotExists)
}

// Load loads the configuration by applying default values, overriding them
// with environment variables, and validating the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, err
	}
	if err := envLoader(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(validate); err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConfigObjectKey returns the fixed well-known storage key for the vault's
// config record.
func ConfigObjectKey() string { return "vault.conf" }
