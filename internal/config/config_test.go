package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - protocol: tcp
    addr: ":1883"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeepaliveMax != 30 {
		t.Errorf("KeepaliveMax = %d, want default 30", cfg.KeepaliveMax)
	}
	if cfg.ReceiveMaximum != 32 {
		t.Errorf("ReceiveMaximum = %d, want default 32", cfg.ReceiveMaximum)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - protocol: tcp
    addr: ":1883"
keepalive_max: 60
store:
  driver: sqlite
  dsn: "./broker.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KeepaliveMax != 60 {
		t.Errorf("KeepaliveMax = %d, want 60", cfg.KeepaliveMax)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "./broker.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
}

func TestLoadRequiresAtLeastOneListener(t *testing.T) {
	path := writeConfig(t, `name: empty`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when no listeners are configured")
	}
}

func TestLoadRejectsTLSWithoutCertKey(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - protocol: tls
    addr: ":8883"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a tls listener with no tls.cert/tls.key")
	}
}

func TestLoadRejectsUnknownProtocol(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - protocol: quic
    addr: ":1883"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unsupported listener protocol")
	}
}

func TestLoadAcceptsWSSWithTLS(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - protocol: wss
    addr: ":8084"
    tls:
      cert: "./cert.pem"
      key: "./key.pem"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].TLS == nil {
		t.Fatalf("got %+v", cfg.Listeners)
	}
}

func TestLoadRejectsEmptyRewritePattern(t *testing.T) {
	path := writeConfig(t, `
listeners:
  - protocol: tcp
    addr: ":1883"
rewrites:
  - pattern: ""
    write: "x"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an empty rewrite pattern")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
