package install

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestNewWorkingDirectoryCreatesLayoutAndTouchesStateFiles(t *testing.T) {
	wd, err := NewWorkingDirectory([]byte(`{"sources":{}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.RemoveAll(wd.Top)

	for _, dir := range []string{wd.State, wd.Scratch, wd.Target} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
	for _, f := range []string{wd.ConfigFile, wd.FstabFile, wd.InterfacesFile} {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("expected file %s to exist: %v", f, err)
		}
	}
	content, err := os.ReadFile(wd.ConfigFile)
	if err != nil || !strings.Contains(string(content), "sources") {
		t.Fatalf("expected config content written, got %q, err=%v", content, err)
	}
}

func TestEnvCarriesFixedMapping(t *testing.T) {
	wd, err := NewWorkingDirectory([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.RemoveAll(wd.Top)

	env := wd.Env("/state/network_state", "/state/network_config", "curtin")
	want := map[string]string{
		"WORKING_DIR":           wd.Scratch,
		"OUTPUT_FSTAB":          wd.FstabFile,
		"OUTPUT_INTERFACES":     wd.InterfacesFile,
		"TARGET_MOUNT_POINT":    wd.Target,
		"CONFIG":                wd.ConfigFile,
		"OUTPUT_NETWORK_STATE":  "/state/network_state",
		"OUTPUT_NETWORK_CONFIG": "/state/network_config",
		"CURTIN_REPORTSTACK":    "curtin",
	}
	got := map[string]string{}
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			got[parts[0]] = parts[1]
		}
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("env[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestStageRunExecutesCommandsInSortedKeyOrder(t *testing.T) {
	dir := t.TempDir()
	order := filepath.Join(dir, "order")

	stage := Stage{
		Name: "final",
		Commands: map[string]interface{}{
			"20_second": []string{"sh", "-c", "echo b >> " + order},
			"10_first":  []string{"sh", "-c", "echo a >> " + order},
		},
	}
	if err := stage.Run(os.Environ()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := os.ReadFile(order)
	if err != nil {
		t.Fatalf("unexpected error reading order file: %v", err)
	}
	if string(content) != "a\nb\n" {
		t.Fatalf("expected commands to run in sorted key order (a before b), got %q", content)
	}
}

func TestStageRunStopsAtFirstFailure(t *testing.T) {
	stage := Stage{
		Name: "early",
		Commands: map[string]interface{}{
			"10_fails":   []string{"false"},
			"20_never":   []string{"sh", "-c", "exit 0"},
		},
	}
	if err := stage.Run(os.Environ()); err == nil {
		t.Fatalf("expected an error from the failing command")
	}
}

func TestRunStageCommandRejectsUnsupportedType(t *testing.T) {
	if err := runStageCommand(42, nil); err == nil {
		t.Fatalf("expected an error for a non-list non-string command value")
	}
}

// TestRunStageCommandAcceptsYAMLDecodedList exercises the real shape a list
// command takes once it comes through config.Config's yaml.Unmarshal into
// interface{}: a []interface{} of strings, not a Go []string literal.
func TestRunStageCommandAcceptsYAMLDecodedList(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")

	var decoded map[string]interface{}
	doc := "cmd:\n  - touch\n  - " + marker + "\n"
	if err := yaml.Unmarshal([]byte(doc), &decoded); err != nil {
		t.Fatalf("unexpected error unmarshalling fixture yaml: %v", err)
	}
	if _, ok := decoded["cmd"].([]interface{}); !ok {
		t.Fatalf("fixture did not decode to []interface{} as expected, got %T", decoded["cmd"])
	}

	if err := runStageCommand(decoded["cmd"], os.Environ()); err != nil {
		t.Fatalf("unexpected error running a yaml-decoded list command: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected marker file to have been created: %v", err)
	}
}

func TestRunStageCommandRejectsNonStringListElement(t *testing.T) {
	if err := runStageCommand([]interface{}{"echo", 42}, nil); err == nil {
		t.Fatalf("expected an error for a list command with a non-string element")
	}
}
