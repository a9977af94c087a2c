package install

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKernelCrashDumpsSkipsDisableWithoutDetectionScript(t *testing.T) {
	target := t.TempDir()
	if err := KernelCrashDumps(false, target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKernelCrashDumpsSkipsAutoDetectWithoutDetectionScript(t *testing.T) {
	target := t.TempDir()
	if err := KernelCrashDumps(nil, target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := KernelCrashDumps("unset", target); err != nil {
		t.Fatalf("unexpected error for a non-bool, non-true/false string: %v", err)
	}
}

func TestCrashDumpsDetectionAvailableFindsScriptUnderTarget(t *testing.T) {
	target := t.TempDir()
	if crashDumpsDetectionAvailable(target) {
		t.Fatalf("did not expect the enablement script to be found in an empty target")
	}
	scriptPath := crashDumpsScriptPath(target)
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !crashDumpsDetectionAvailable(target) {
		t.Fatalf("expected the enablement script to be found once written")
	}
}
