package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DOCSTORE", "")
	t.Setenv("ACCESS_TOKEN_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Docstore != DocstoreMemory {
		t.Errorf("unexpected defaults: port=%s docstore=%s", cfg.Port, cfg.Docstore)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("access token ttl = %s", cfg.AccessTokenTTL)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without JWT_SECRET")
	}
}

func TestLoadValidatesBackends(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "postgres without redis", env: map[string]string{"DOCSTORE": "postgres", "REDIS_ADDR": ""}, wantErr: true},
		{name: "postgres with redis", env: map[string]string{"DOCSTORE": "postgres", "REDIS_ADDR": "localhost:6379"}},
		{name: "kafka without brokers", env: map[string]string{"EVENTS_BACKEND": "kafka", "KAFKA_BROKERS": ""}, wantErr: true},
		{name: "unknown docstore", env: map[string]string{"DOCSTORE": "sqlite"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsAdminEmail(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ADMIN_EMAILS", " Owner@Example.com , boss@example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsAdminEmail("owner@example.com") || !cfg.IsAdminEmail("BOSS@example.com ") {
		t.Error("expected listed emails to be admins")
	}
	if cfg.IsAdminEmail("clerk@example.com") {
		t.Error("unexpected admin")
	}
}
