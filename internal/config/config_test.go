package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// emptyDir keeps tests from picking up a config.yaml in the package dir.
func emptyDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(emptyDir(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.Store.Driver != "sqlite" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Quiz.AutoAdvanceDelay != 1500*time.Millisecond {
		t.Errorf("expected 1.5s auto-advance, got %s", cfg.Quiz.AutoAdvanceDelay)
	}
	if cfg.Quiz.ResumeCodeAttempts != 10 {
		t.Errorf("expected 10 attempts, got %d", cfg.Quiz.ResumeCodeAttempts)
	}
	if cfg.Retention.TTL != 30*24*time.Hour {
		t.Errorf("unexpected retention %s", cfg.Retention.TTL)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode without FRONTEND_URL")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/quiz.db")
	t.Setenv("AUTO_ADVANCE_DELAY", "2s")
	t.Setenv("RESUME_CODE_ATTEMPTS", "4")
	t.Setenv("FRONTEND_URL", "https://quiz.example.com/")
	t.Setenv("RETENTION_SCHEDULE", "0 3 * * *")

	cfg, err := Load(emptyDir(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.Store.DBPath != "/tmp/quiz.db" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Quiz.AutoAdvanceDelay != 2*time.Second || cfg.Quiz.ResumeCodeAttempts != 4 {
		t.Errorf("quiz env not applied: %+v", cfg.Quiz)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode for a public frontend")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "https://quiz.example.com" {
		t.Errorf("unexpected origins %v", got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
port: "7000"
data_dir: ./questions
subjects:
  - name: Manajemen Keuangan
    file: mankeb.csv
  - name: Pastra
    file: pastra.csv
quiz:
  idle_session_ttl: 5m
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7000" || cfg.DataDir != "./questions" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.Subjects) != 2 || cfg.Subjects[1].File != "pastra.csv" {
		t.Errorf("unexpected subjects %+v", cfg.Subjects)
	}
	if cfg.Quiz.IdleSessionTTL != 5*time.Minute {
		t.Errorf("unexpected idle ttl %s", cfg.Quiz.IdleSessionTTL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"postgres without url": {"STORE_DRIVER": "postgres"},
		"unknown driver":       {"STORE_DRIVER": "mongo"},
		"bad schedule":         {"RETENTION_SCHEDULE": "whenever"},
		"zero attempts":        {"RESUME_CODE_ATTEMPTS": "0"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(emptyDir(t)); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPostgresURLFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://quiz@localhost/quiz")

	cfg, err := Load(emptyDir(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.DatabaseURL != "postgres://quiz@localhost/quiz" {
		t.Errorf("unexpected dsn %q", cfg.Store.DatabaseURL)
	}
}
