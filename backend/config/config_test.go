package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "config-test-secret-2026"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("CCMS_AUTH_JWT_SECRET", testSecret)
	t.Setenv("CCMS_CLAIM_MONTHLY_HOUR_CAP", "120")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("file value not applied: port=%d", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("env secret not applied")
	}
	if cfg.Claim.MonthlyHourCap != 120 {
		t.Errorf("env cap not applied: %v", cfg.Claim.MonthlyHourCap)
	}
	// 两套边界分别取默认值
	if cfg.Claim.Submission.MaxHours != 200 || cfg.Claim.Verification.MaxHours != 160 {
		t.Errorf("unexpected bounds: submission=%v verification=%v",
			cfg.Claim.Submission.MaxHours, cfg.Claim.Verification.MaxHours)
	}
	if cfg.Claim.Verification.MaxSubmissionLagDays != 30 {
		t.Errorf("unexpected lag: %d", cfg.Claim.Verification.MaxSubmissionLagDays)
	}
	if cfg.Vault.IVMode != "per_file" || cfg.Breaker.Threshold != 3 || cfg.Breaker.TTL != 30*time.Minute {
		t.Errorf("unexpected vault/breaker defaults: %+v %+v", cfg.Vault, cfg.Breaker)
	}
}

func TestLoad_RejectsShortSecret(t *testing.T) {
	t.Setenv("CCMS_AUTH_JWT_SECRET", "short")
	if _, err := Load(writeConfig(t, "log:\n  level: info\n")); err == nil {
		t.Error("expected short secret to be rejected")
	}
}

func validConfig() Config {
	b := BoundsConfig{MinHours: 0.5, MaxHours: 160, MinRate: 100, MaxRate: 10000}
	return Config{
		Server: ServerConfig{Port: 8080},
		Auth:   AuthConfig{JWTSecret: testSecret},
		Claim: ClaimConfig{
			MonthlyHourCap: 180,
			Submission:     b,
			Verification:   VerificationConfig{BoundsConfig: b, MaxSubmissionLagDays: 30},
		},
		Vault:   VaultConfig{Backend: "local", IVMode: "fixed", MaxFileSize: 1 << 20},
		Breaker: BreakerConfig{Backend: "memory", Threshold: 3},
	}
}

func TestValidate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	shortIV := base64.StdEncoding.EncodeToString(make([]byte, 8))

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"valid key", func(c *Config) { c.Vault.Key = key }, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"inverted hours", func(c *Config) { c.Claim.Submission.MaxHours = 0.1 }, "claim.submission"},
		{"inverted rate", func(c *Config) { c.Claim.Verification.MaxRate = 50 }, "claim.verification"},
		{"no cap", func(c *Config) { c.Claim.MonthlyHourCap = 0 }, "monthly_hour_cap"},
		{"iv mode", func(c *Config) { c.Vault.IVMode = "random" }, "iv_mode"},
		{"s3 without bucket", func(c *Config) { c.Vault.Backend = "s3" }, "s3.bucket"},
		{"short iv", func(c *Config) { c.Vault.IV = shortIV }, "vault.iv"},
		{"bad base64", func(c *Config) { c.Vault.Key = "!!" }, "vault.key"},
		{"redis breaker", func(c *Config) { c.Breaker.Backend = "redis" }, "redis.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}
