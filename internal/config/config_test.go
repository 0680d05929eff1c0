package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreNormalized(t *testing.T) {
	cfg := Default()
	cfg.normalizeUploadDefaults()

	if cfg.Upload.ChunkSizeBytes != DefaultChunkSizeBytes {
		t.Fatalf("chunk size = %d", cfg.Upload.ChunkSizeBytes)
	}
	if cfg.TempArtifactTTL() != DefaultTempArtifactTTL {
		t.Fatalf("ttl = %s", cfg.TempArtifactTTL())
	}
	if got := cfg.RetryDelays(); len(got) != len(DefaultRetryDelays) {
		t.Fatalf("retry delays = %v", got)
	}
	if got := cfg.AllowedMediaTypes(); len(got) == 0 {
		t.Fatal("expected default media types")
	}
}

func TestRetryDelaysFromConfig(t *testing.T) {
	cfg := Default()
	cfg.Upload.RetryDelaysMS = []int64{100, 250, 900}

	got := cfg.RetryDelays()
	want := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 900 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("delays = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLoadReadsConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	content := `
api_url = "http://127.0.0.1:9999"
data_dir = "` + filepath.ToSlash(dir) + `/data"

[upload]
chunk_size_bytes = 1024
retry_delays_ms = [10, 20]
temp_artifact_ttl = "2h"

[queue]
backend = "file"
`
	if err := os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(configDirEnvKey, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://127.0.0.1:9999" {
		t.Fatalf("api url = %s", cfg.APIURL)
	}
	if cfg.Upload.ChunkSizeBytes != 1024 {
		t.Fatalf("chunk size = %d", cfg.Upload.ChunkSizeBytes)
	}
	if cfg.TempArtifactTTL() != 2*time.Hour {
		t.Fatalf("ttl = %s", cfg.TempArtifactTTL())
	}
	if cfg.Queue.Backend != "file" {
		t.Fatalf("queue backend = %s", cfg.Queue.Backend)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(configDirEnvKey, dir)
	t.Setenv(apiURLEnvKey, "http://10.0.0.1:7411")
	t.Setenv(allowedMediaTypesEnvKey, "audio/ogg, audio/webm")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://10.0.0.1:7411" {
		t.Fatalf("api url = %s", cfg.APIURL)
	}
	got := cfg.AllowedMediaTypes()
	if len(got) != 2 || got[0] != "audio/ogg" || got[1] != "audio/webm" {
		t.Fatalf("media types = %v", got)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)

	if err := SetKey(path, "upload.max_attempts", "7"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := SetKey(path, "api_url", "http://127.0.0.1:7500"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := SetKey(path, "nonsense", "1"); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := SetKey(path, "queue.backend", "redis"); err == nil {
		t.Fatal("expected error for invalid backend")
	}

	cfg := Default()
	if _, err := loadFileIfExists(path, &cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Upload.MaxAttempts != 7 {
		t.Fatalf("max attempts = %d", cfg.Upload.MaxAttempts)
	}
	if cfg.APIURL != "http://127.0.0.1:7500" {
		t.Fatalf("api url = %s", cfg.APIURL)
	}
}
