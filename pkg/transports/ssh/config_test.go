package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("example.com", "testuser")

	if config.Host != "example.com" {
		t.Errorf("expected host 'example.com', got '%s'", config.Host)
	}
	if config.User != "testuser" {
		t.Errorf("expected user 'testuser', got '%s'", config.User)
	}
	if config.Port != 22 {
		t.Errorf("expected port 22, got %d", config.Port)
	}
	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected auth method 'key', got '%s'", config.AuthMethod)
	}
	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", config.ConnectionTimeout)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name       string
		modifyFunc func(*Config)
		errorMsg   string
	}{
		{
			name:       "valid config",
			modifyFunc: func(c *Config) {},
		},
		{
			name:       "missing host",
			modifyFunc: func(c *Config) { c.Host = "" },
			errorMsg:   "host is required",
		},
		{
			name:       "bad host",
			modifyFunc: func(c *Config) { c.Host = "not a host" },
			errorMsg:   "invalid host",
		},
		{
			name:       "invalid port",
			modifyFunc: func(c *Config) { c.Port = 0 },
			errorMsg:   "invalid port: 0",
		},
		{
			name:       "missing user",
			modifyFunc: func(c *Config) { c.User = "" },
			errorMsg:   "user is required",
		},
		{
			name:       "unsupported auth method",
			modifyFunc: func(c *Config) { c.AuthMethod = "kerberos" },
			errorMsg:   "unsupported auth method: kerberos",
		},
		{
			name:       "password auth without password",
			modifyFunc: func(c *Config) { c.Password = "" },
			errorMsg:   "password is required",
		},
		{
			name: "key auth with missing key file",
			modifyFunc: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			errorMsg: "private key file not found",
		},
		{
			name:       "invalid connection timeout",
			modifyFunc: func(c *Config) { c.ConnectionTimeout = 0 },
			errorMsg:   "connection timeout must be positive",
		},
		{
			name: "proxy with missing user",
			modifyFunc: func(c *Config) {
				c.ProxyHost = "bastion.example.com"
				c.ProxyUser = ""
			},
			errorMsg: "proxy user is required",
		},
		{
			name: "proxy with bad port",
			modifyFunc: func(c *Config) {
				c.ProxyHost = "bastion.example.com"
				c.ProxyUser = "jump"
				c.ProxyPort = 70000
			},
			errorMsg: "invalid proxy port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("example.com", "testuser")
			config.AuthMethod = AuthMethodPassword
			config.Password = "secret"
			tt.modifyFunc(config)

			err := config.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err)
			}
		})
	}
}

func TestConfigValidateAgentWithoutSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	config := DefaultConfig("example.com", "testuser")
	config.AuthMethod = AuthMethodAgent
	if err := config.Validate(); err == nil || !strings.Contains(err.Error(), "SSH_AUTH_SOCK") {
		t.Errorf("expected SSH_AUTH_SOCK error, got %v", err)
	}
}

func TestConfigAddress(t *testing.T) {
	config := DefaultConfig("example.com", "testuser")
	config.Port = 2222

	if got := config.Address(); got != "example.com:2222" {
		t.Errorf("expected address 'example.com:2222', got '%s'", got)
	}

	config.Host = "::1"
	if got := config.Address(); got != "[::1]:2222" {
		t.Errorf("expected bracketed IPv6 address, got '%s'", got)
	}
}

func TestConfigProxyAddress(t *testing.T) {
	config := DefaultConfig("example.com", "testuser")
	if address := config.ProxyAddress(); address != "" {
		t.Errorf("expected empty proxy address, got '%s'", address)
	}

	config.ProxyHost = "bastion.example.com"
	config.ProxyPort = 2222
	if address := config.ProxyAddress(); address != "bastion.example.com:2222" {
		t.Errorf("expected proxy address 'bastion.example.com:2222', got '%s'", address)
	}
}

func TestParseTarget(t *testing.T) {
	t.Setenv("USER", "builder")

	tests := []struct {
		target  string
		want    [3]any // host, port, user
		wantErr bool
	}{
		{target: "mac-mini.local", want: [3]any{"mac-mini.local", 22, "builder"}},
		{target: "ci@mac-mini.local", want: [3]any{"mac-mini.local", 22, "ci"}},
		{target: "ci@10.0.0.5:2222", want: [3]any{"10.0.0.5", 2222, "ci"}},
		{target: "[::1]:2200", want: [3]any{"::1", 2200, "builder"}},
		{target: "ci@host:port", wantErr: true},
		{target: "ci@", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			cfg, err := ParseTarget(tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got config %+v", cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := [3]any{cfg.Host, cfg.Port, cfg.User}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigTarget(t *testing.T) {
	config := DefaultConfig("mac-mini.local", "ci")
	if got := config.Target(); got != "ci@mac-mini.local" {
		t.Errorf("expected 'ci@mac-mini.local', got '%s'", got)
	}
}

func TestBuildSSHClientConfig(t *testing.T) {
	t.Run("password authentication", func(t *testing.T) {
		config := DefaultConfig("example.com", "testuser")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clientConfig.User != "testuser" {
			t.Errorf("expected user 'testuser', got '%s'", clientConfig.User)
		}
		// password plus keyboard-interactive
		if len(clientConfig.Auth) != 2 {
			t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
		}
		if clientConfig.Timeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", clientConfig.Timeout)
		}
	})

	t.Run("key authentication with valid key", func(t *testing.T) {
		keyPath := writeTestKey(t)

		config := DefaultConfig("example.com", "testuser")
		config.AuthMethod = AuthMethodKey
		config.PrivateKeyPath = keyPath
		config.StrictHostKeyChecking = false

		clientConfig, err := config.BuildSSHClientConfig()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(clientConfig.Auth) != 1 {
			t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
		}
	})

	t.Run("key authentication with garbage key", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "bad_key")
		if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
			t.Fatal(err)
		}

		config := DefaultConfig("example.com", "testuser")
		config.PrivateKeyPath = keyPath
		if _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected parse error, got nil")
		}
	})

	t.Run("agent authentication without socket", func(t *testing.T) {
		t.Setenv("SSH_AUTH_SOCK", "")

		config := DefaultConfig("example.com", "testuser")
		config.AuthMethod = AuthMethodAgent
		if _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected error for agent auth, got nil")
		}
	})

	t.Run("strict checking with missing known_hosts", func(t *testing.T) {
		config := DefaultConfig("example.com", "testuser")
		config.AuthMethod = AuthMethodPassword
		config.Password = "secret"
		config.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		if _, err := config.BuildSSHClientConfig(); err == nil {
			t.Error("expected known_hosts error, got nil")
		}
	})
}

// writeTestKey writes a fresh ed25519 private key in OpenSSH PEM form and
// returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}
	return keyPath
}
