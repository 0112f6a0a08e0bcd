package config

import (
	"errors"
	"os"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
)

// helper function to ensure ENV vars on the host do not interfere with tests
// returns the original values for restoration if needed
func cleanEnvVars(t *testing.T) map[string]string {
	orig := make(map[string]string)
	t.Helper()
	vars := []string{
		"AXIOMVAULT_BACKEND",
		"AXIOMVAULT_DATA_DIR",
		"AXIOMVAULT_S3_BUCKET",
		"AXIOMVAULT_S3_REGION",
		"AXIOMVAULT_S3_ENDPOINT",
		"AXIOMVAULT_KDF_MEMORY_KIB",
		"AXIOMVAULT_KDF_TIME",
		"AXIOMVAULT_KDF_PARALLELISM",
		"AXIOMVAULT_LOG_LEVEL",
	}
	for _, v := range vars {
		val := os.Getenv(v)
		if val != "" {
			orig[v] = val
		}
		if err := os.Unsetenv(v); err != nil {
			t.Fatalf("unsetenv %q: %v", v, err)
		}
	}
	return orig
}

func restoreEnvVars(t *testing.T, orig map[string]string) {
	t.Helper()
	for k, v := range orig {
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("setenv %q: %v", k, err)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assert.EqualValues(t, DefaultConfig, *cfg)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	t.Setenv("AXIOMVAULT_BACKEND", "s3")
	t.Setenv("AXIOMVAULT_S3_BUCKET", "my-vault-bucket")
	t.Setenv("AXIOMVAULT_S3_REGION", "us-east-1")
	t.Setenv("AXIOMVAULT_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assert.Equal(t, "s3", cfg.Backend)
	assert.Equal(t, "my-vault-bucket", cfg.S3Bucket)
	assert.Equal(t, "us-east-1", cfg.S3Region)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestBackendRequiresMatchingFields(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	t.Setenv("AXIOMVAULT_BACKEND", "s3")
	t.Setenv("AXIOMVAULT_S3_BUCKET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error: s3 backend with no bucket")
	}
}

func TestInvalidBackend(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	t.Setenv("AXIOMVAULT_BACKEND", "ftp")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestInvalidLogLevel(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	t.Setenv("AXIOMVAULT_LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestValidDataDirs(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	valid := []string{
		"data",
		"/var/lib/axiomvault",
		"./data",
		"relative/path/to/data",
		"nested/dir/structure",
	}
	for _, p := range valid {
		t.Setenv("AXIOMVAULT_DATA_DIR", p)
		cfg, err := Load()
		if err != nil {
			t.Errorf("expected valid path %q, got error: %v", p, err)
			continue
		}
		if cfg.DataDir != p {
			t.Errorf("expected DataDir %q, got %q", p, cfg.DataDir)
		}
	}
}

func TestInvalidDataDirs(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	invalid := []string{
		"",
		".",
		"/",
		"//",
		"../data",
		"data/..",
		"data/../../../etc",
	}
	for _, p := range invalid {
		t.Setenv("AXIOMVAULT_DATA_DIR", p)
		if _, err := Load(); err == nil {
			t.Errorf("expected error for invalid path %q, got nil", p)
		}
	}
}

func TestKDFParamValidation(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })

	t.Setenv("AXIOMVAULT_KDF_MEMORY_KIB", "1024") // below the 8192 floor
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for undersized kdf_memory_kib")
	}
}

func TestNumericEnvCoercion(t *testing.T) {
	orig := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, orig) })
	t.Setenv("AXIOMVAULT_KDF_MEMORY_KIB", "131072")
	t.Setenv("AXIOMVAULT_KDF_TIME", "5")
	t.Setenv("AXIOMVAULT_KDF_PARALLELISM", "2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.KDFMemoryKiB != 131072 {
		t.Fatalf("expected KDFMemoryKiB 131072 got %d", cfg.KDFMemoryKiB)
	}
	if cfg.KDFTime != 5 {
		t.Fatalf("expected KDFTime 5 got %d", cfg.KDFTime)
	}
	if cfg.KDFParallelism != 2 {
		t.Fatalf("expected KDFParallelism 2 got %d", cfg.KDFParallelism)
	}
}

func TestValidDirNotExists(t *testing.T) {
	v := validator.New()
	if err := v.RegisterValidation("custom_path", validDirNotExists); err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type sample struct {
		Path string `validate:"custom_path"`
	}

	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{name: "empty", path: "", valid: false},
		{name: "dot", path: ".", valid: false},
		{name: "root", path: "/", valid: false},
		{name: "parent_traversal", path: "../escape", valid: false},
		{name: "embedded_traversal", path: "a/../../b", valid: false},
		{name: "relative", path: "data", valid: true},
		{name: "absolute", path: "/var/lib/axiomvault", valid: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := sample{Path: tc.path}
			err := v.Struct(&s)
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got error: %v", err)
			}
			if !tc.valid && err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestConfigObjectKey(t *testing.T) {
	if got := ConfigObjectKey(); got != "vault.conf" {
		t.Fatalf("expected vault.conf, got %q", got)
	}
}

func TestLoadDefaultError(t *testing.T) {
	origVars := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, origVars) })

	orig := defaultLoader
	t.Cleanup(func() { defaultLoader = orig })
	defaultLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestLoadEnvError(t *testing.T) {
	origVars := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, origVars) })

	orig := envLoader
	t.Cleanup(func() { envLoader = orig })
	envLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestRegisterValidationFails(t *testing.T) {
	origVars := cleanEnvVars(t)
	t.Cleanup(func() { restoreEnvVars(t, origVars) })
	orig := registerValidators
	t.Cleanup(func() { registerValidators = orig })
	registerValidators = func(v *validator.Validate) error {
		assert.NotNil(t, v)
		return assert.AnError
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}
