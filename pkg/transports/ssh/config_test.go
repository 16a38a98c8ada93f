package ssh

import (
	"testing"
	"time"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input string
		user  string
		host  string
		port  int
		valid bool
	}{
		{"root@web01", "root", "web01", 22, true},
		{"deploy@web01.example.com:2222", "deploy", "web01.example.com", 2222, true},
		{"user@10.0.0.5", "user", "10.0.0.5", 22, true},
		{"user@[::1]:2022", "user", "::1", 2022, true},
		{"web01", "", "", 0, false},
		{"@web01", "", "", 0, false},
		{"user@", "", "", 0, false},
		{"user@host:0", "", "", 0, false},
		{"user@host:notaport", "", "", 0, false},
		{"", "", "", 0, false},
	}

	for _, tt := range tests {
		user, host, port, err := ParseTarget(tt.input)
		if tt.valid {
			if err != nil {
				t.Errorf("ParseTarget(%q): unexpected error: %v", tt.input, err)
				continue
			}
			if user != tt.user || host != tt.host || port != tt.port {
				t.Errorf("ParseTarget(%q) = %s@%s:%d, want %s@%s:%d",
					tt.input, user, host, port, tt.user, tt.host, tt.port)
			}
			continue
		}
		if err == nil {
			t.Errorf("ParseTarget(%q): expected error, got %s@%s:%d", tt.input, user, host, port)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("web01", "root")

	if cfg.Host != "web01" || cfg.User != "root" {
		t.Errorf("Unexpected identity: %s@%s", cfg.User, cfg.Host)
	}
	if cfg.Port != 22 {
		t.Errorf("Expected port 22, got %d", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("Expected key auth by default, got %s", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("Expected strict host key checking by default")
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("Expected 30s connect timeout, got %s", cfg.ConnectTimeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Host:           "web01",
			Port:           22,
			User:           "root",
			AuthMethod:     AuthMethodPassword,
			Password:       "secret",
			ConnectTimeout: time.Second,
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("Expected valid config, got: %v", err)
	}

	cfg := base()
	cfg.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected missing host to fail")
	}

	cfg = base()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("Expected out-of-range port to fail")
	}

	cfg = base()
	cfg.User = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected missing user to fail")
	}

	cfg = base()
	cfg.Password = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected missing password to fail")
	}

	cfg = base()
	cfg.AuthMethod = "kerberos"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected unsupported auth method to fail")
	}

	cfg = base()
	cfg.ConnectTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected zero connect timeout to fail")
	}

	cfg = base()
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = "/nonexistent/id_ed25519"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected missing key file to fail")
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "web01", Port: 2222}
	if cfg.Addr() != "web01:2222" {
		t.Errorf("Expected web01:2222, got %s", cfg.Addr())
	}
	cfg = &Config{Host: "::1", Port: 22}
	if cfg.Addr() != "[::1]:22" {
		t.Errorf("Expected bracketed IPv6 address, got %s", cfg.Addr())
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "'simple'"},
		{"", "''"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"$HOME; rm -rf /", "'$HOME; rm -rf /'"},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.input); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestBuildCommand(t *testing.T) {
	got := buildCommand("systemctl", []string{"restart", "my service"})
	want := "'systemctl' 'restart' 'my service'"
	if got != want {
		t.Errorf("buildCommand = %s, want %s", got, want)
	}
}
