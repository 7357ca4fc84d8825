package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestDescriptor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test descriptor: %v", err)
	}
	return path
}

func TestRunNodeMissingConfigFails(t *testing.T) {
	if err := runNode("hugo", filepath.Join(t.TempDir(), "missing.yaml"), nil, false); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestRunNodeUnknownIDFails(t *testing.T) {
	path := writeTestDescriptor(t, "nodes:\n  - id: hugo\n    endpoint: \"127.0.0.1:0\"\n")
	if err := runNode("ghost", path, nil, false); err == nil {
		t.Fatalf("expected an error when --id is not a declared node")
	}
}

func TestRunNodeInvalidBootstrapFails(t *testing.T) {
	path := writeTestDescriptor(t, "nodes:\n  - id: hugo\n    endpoint: \"127.0.0.1:0\"\nbootstrap:\n  - ghost\n")
	if err := runNode("hugo", path, nil, false); err == nil {
		t.Fatalf("expected descriptor validation to reject an unknown bootstrap peer")
	}
}
