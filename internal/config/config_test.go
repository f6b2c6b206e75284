package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/tracescore/internal/config"
)

func clearLangfuseEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvHost, "")
	t.Setenv(config.EnvPublicKey, "")
	t.Setenv(config.EnvSecretKey, "")
}

func TestLoadMinimal(t *testing.T) {
	clearLangfuseEnv(t)
	cfg, err := config.Load("../../testdata/minimal.yaml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Trace.Name != config.DefaultTraceName {
		t.Errorf("expected default trace name, got %q", cfg.Trace.Name)
	}
	if cfg.Eval.PageDelay() != 400*time.Millisecond {
		t.Errorf("expected 400ms page delay, got %s", cfg.Eval.PageDelay())
	}
	if cfg.Eval.MaxRetries != 1 {
		t.Errorf("expected 1 retry, got %d", cfg.Eval.MaxRetries)
	}
	if cfg.Eval.PageLimit != 100 {
		t.Errorf("expected page limit 100, got %d", cfg.Eval.PageLimit)
	}
	if cfg.Eval.RetryAfterDefault() != 2*time.Second {
		t.Errorf("expected 2s retry-after default, got %s", cfg.Eval.RetryAfterDefault())
	}
	if got := cfg.ExportPath("train"); got != "train_eval.csv" {
		t.Errorf("export path: got %q", got)
	}
}

func TestLoadFullJSON(t *testing.T) {
	t.Setenv(config.EnvPublicKey, "pk-from-env")
	cfg, err := config.Load("../../testdata/full.json")
	require.NoError(t, err)

	// ignore_env keeps the file's keys.
	assert.Equal(t, "pk-lf-full", cfg.Langfuse.PublicKey)
	assert.Equal(t, "https://langfuse.example.com", cfg.Langfuse.Host)
	assert.Equal(t, []string{"train", "test"}, cfg.SplitNames())
	assert.Len(t, cfg.Metrics.Compute, 4)
	assert.Equal(t, "rouge", cfg.Metrics.Compute[0].Kind)
	assert.Equal(t, time.Duration(0), cfg.Eval.PageDelay())
	assert.Equal(t, 3, cfg.Eval.MaxRetries)
	assert.Equal(t, 4, cfg.Eval.Workers)
	assert.Equal(t, "out/train_eval.csv", cfg.ExportPath("train"))
	assert.Equal(t, "out/test.xlsx", cfg.ExportPath("test"))
	require.Len(t, cfg.Metrics.ScoreConfigs, 2)
	require.NotNil(t, cfg.Metrics.ScoreConfigs[0].MaxValue)
	assert.Equal(t, 1.0, *cfg.Metrics.ScoreConfigs[0].MaxValue)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(config.EnvHost, "http://override:3000/")
	t.Setenv(config.EnvPublicKey, "pk-env")
	t.Setenv(config.EnvSecretKey, "sk-env")
	cfg, err := config.Load("../../testdata/minimal.yaml")
	require.NoError(t, err)
	assert.Equal(t, "http://override:3000", cfg.Langfuse.Host)
	assert.Equal(t, "pk-env", cfg.Langfuse.PublicKey)
	assert.Equal(t, "sk-env", cfg.Langfuse.SecretKey)
}

func TestLoadSecretsEnvFile(t *testing.T) {
	clearLangfuseEnv(t)
	cfg, err := config.Load("../../testdata/nokeys.yaml")
	require.NoError(t, err)
	assert.Equal(t, "pk-lf-from-file", cfg.Langfuse.PublicKey)
	assert.Equal(t, "sk-lf-from-file", cfg.Langfuse.SecretKey)
}

func TestLoadMissingKeys(t *testing.T) {
	clearLangfuseEnv(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", `
langfuse:
  host: http://localhost:3000
datasets:
  train:
    dataset_name: d
`)
	_, err := config.Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissingKeys))

	cfg, err := config.Load(path, config.WithoutCredentials())
	require.NoError(t, err)
	assert.Equal(t, "d", cfg.Datasets["train"].DatasetName)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearLangfuseEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"no datasets", "langfuse: {public_key: a, secret_key: b}\n"},
		{"dataset without name", "langfuse: {public_key: a, secret_key: b}\ndatasets: {train: {export: x.csv}}\n"},
		{"page limit above api max", "langfuse: {public_key: a, secret_key: b}\ndatasets: {train: {dataset_name: d}}\neval: {page_limit: 500}\n"},
		{"unknown export format", "langfuse: {public_key: a, secret_key: b}\ndatasets: {train: {dataset_name: d}}\neval: {export_format: parquet}\n"},
		{"block without kind", "langfuse: {public_key: a, secret_key: b}\ndatasets: {train: {dataset_name: d}}\nmetrics: {compute: [{params: {out: x}}]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "cfg.yaml", tt.body)
			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := config.Load("nonexistent.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalid(t *testing.T) {
	_, err := config.Load("../../testdata/invalid.yaml")
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestSplitUnknown(t *testing.T) {
	cfg, err := config.Parse([]byte("datasets: {train: {dataset_name: d}}\n"))
	require.NoError(t, err)
	_, err = cfg.Split("validation")
	assert.ErrorContains(t, err, `split "validation" not configured`)
}

func TestParseEnvFile(t *testing.T) {
	vars, err := config.ParseEnvFile("../../testdata/secrets.env")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"LANGFUSE_PUBLIC_KEY": "pk-lf-from-file",
		"LANGFUSE_SECRET_KEY": "sk-lf-from-file",
	}, vars)
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
