package config

import "testing"

func setProdEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "production")
	t.Setenv("PROOF_TOKEN_SECRET", "")
	t.Setenv("JWT_SECRET", "")
}

func TestLoadSecrets(t *testing.T) {
	t.Run("production requires the token secret", func(t *testing.T) {
		setProdEnv(t)
		if _, err := Load(); err == nil {
			t.Fatal("Load succeeded without PROOF_TOKEN_SECRET in production")
		}
	})

	t.Run("production requires the jwt secret", func(t *testing.T) {
		setProdEnv(t)
		t.Setenv("PROOF_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
		if _, err := Load(); err == nil {
			t.Fatal("Load succeeded without JWT_SECRET in production")
		}
	})

	t.Run("production with both secrets loads", func(t *testing.T) {
		setProdEnv(t)
		t.Setenv("PROOF_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
		t.Setenv("JWT_SECRET", "fedcba9876543210fedcba9876543210")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Proof.TokenSecret == "" || cfg.JWT.Secret == "" {
			t.Error("explicit secrets not carried into config")
		}
	})

	t.Run("development generates both secrets per run", func(t *testing.T) {
		t.Setenv("APP_ENV", "development")
		t.Setenv("PROOF_TOKEN_SECRET", "")
		t.Setenv("JWT_SECRET", "")

		first, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		second, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if first.Proof.TokenSecret == "" || first.JWT.Secret == "" {
			t.Fatal("dev secrets empty")
		}
		if first.Proof.TokenSecret == second.Proof.TokenSecret {
			t.Error("dev token secret is not per-run")
		}
		if first.JWT.Secret == second.JWT.Secret {
			t.Error("dev jwt secret is not per-run")
		}
	})
}
