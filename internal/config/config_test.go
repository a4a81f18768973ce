package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://localhost:3000/api" {
		t.Errorf("unexpected default apiUrl: %q", cfg.APIURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unexpected default logLevel: %q", cfg.LogLevel)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// local dev backend
		apiUrl: "http://dev.local:8080/api",
		socketUrl: "http://dev.local:8080",
		token: "tok",
		userId: "u-1",
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://dev.local:8080/api" || cfg.UserID != "u-1" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{apiUrl: "http://file.local/api"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOTNEXA_API_URL", "http://env.local/api")
	t.Setenv("BOTNEXA_TOKEN", "env-tok")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://env.local/api" {
		t.Errorf("env override lost: %q", cfg.APIURL)
	}
	if cfg.Token != "env-tok" {
		t.Errorf("token override lost: %q", cfg.Token)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{apiUrl: `), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestPairTimeoutPassesThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{pairTimeout: "90s"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PairTimeout != "90s" {
		t.Errorf("pairTimeout = %q, want 90s", cfg.PairTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("defaults lack a token and user id, Validate should fail")
	}

	cfg.Token = "tok"
	cfg.UserID = "u-1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestDiffReportsChangedFields(t *testing.T) {
	base := Default()
	next := Default()

	if got := base.Diff(next); len(got) != 0 {
		t.Errorf("identical configs diff = %v, want none", got)
	}

	next.SocketURL = "http://other.local"
	next.Token = "rotated"
	got := base.Diff(next)
	want := []string{"socketUrl", "token"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("diff = %v, want %v", got, want)
	}
	for _, field := range got {
		if field == "rotated" {
			t.Error("diff must name fields, never values")
		}
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := []struct{ in, want string }{
		{"6281200001111", "6281200001111"},
		{"+62 812-0000-1111", "6281200001111"},
		{"(62) 812 0000 1111", "6281200001111"},
		{"006281200001111", "6281200001111"},
		{"0812", ""},
		{"not a number", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeNumber(c.in); got != c.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
