package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pupstream "github.com/getpup/pupstream/pkg"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != pupstream.Version() {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcilerd.yaml")
	content := []byte(`
database:
  driver: mysql
  dsn: user:pass@tcp(localhost:3306)/pupstream
staging:
  backend: redis
bus:
  kind: rabbitmq
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "database=mysql staging=redis bus=rabbitmq") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCheckCommandRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconcilerd.yaml")
	if err := os.WriteFile(path, []byte("database:\n  driver: oracle\n  dsn: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "check", "--config", path); err == nil {
		t.Fatal("expected an invalid driver to be rejected")
	}
}
