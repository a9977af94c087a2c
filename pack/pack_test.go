package pack

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestWriteExeWrapperOrdersCandidatesAndProbesEachOne(t *testing.T) {
	out := WriteExeWrapper([]string{"amd64", "arm64"})
	if !strings.HasPrefix(out, "#!/bin/sh\n") {
		t.Fatalf("expected a sh shebang, got %q", out[:20])
	}
	if !strings.Contains(out, `CURTIN_ARCH_CANDIDATES=${CURTIN_ARCH_CANDIDATES:-"amd64 arm64"}`) {
		t.Fatalf("expected both arch candidates embedded, got:\n%s", out)
	}
	if !strings.Contains(out, "archdir=") || !strings.Contains(out, "exec \"$CURTIN_BINARY\"") {
		t.Fatalf("expected the probing loop and final exec, got:\n%s", out)
	}
}

func TestNewEntrypointPanicsOnDuplicateName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic registering a duplicate entrypoint name")
		}
	}()
	NewEntrypoint("dup-test-entry", func(args []string) error { return nil })
	NewEntrypoint("dup-test-entry", func(args []string) error { return nil })
}

func TestEntrypointArgsPrefixesSelector(t *testing.T) {
	e := Entrypoint("some-command")
	args, err := e.Args("--flag", "value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(args) < 2 || args[1] != entryArgPrefix+"some-command" {
		t.Fatalf("expected argv[1] to carry the entrypoint selector, got %v", args)
	}
	if args[len(args)-1] != "value" || args[len(args)-2] != "--flag" {
		t.Fatalf("expected trailing args preserved, got %v", args)
	}
}

func TestPackRejectsEmptyBinarySet(t *testing.T) {
	var buf bytes.Buffer
	err := Pack(&buf, Options{})
	if err == nil {
		t.Fatalf("expected an error with no binaries provided")
	}
}

func TestPackRejectsArchivePathEscape(t *testing.T) {
	var buf bytes.Buffer
	err := Pack(&buf, Options{
		Paths: Paths{Binaries: map[string]string{"amd64": writeTempBinary(t)}},
		Files: []FileEntry{{ArchivePath: "../escape", Content: []byte("x")}},
	})
	if err == nil {
		t.Fatalf("expected an error for a path escaping the archive root")
	}
}

func TestPackEmitsShebangStubBeforePayload(t *testing.T) {
	var buf bytes.Buffer
	err := Pack(&buf, Options{
		Paths:   Paths{Binaries: map[string]string{"amd64": writeTempBinary(t)}},
		Command: []string{"bin/curtin", "install"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("#!/bin/sh\n")) {
		t.Fatalf("expected the archive to start with a shell shebang")
	}
	if !bytes.Contains(buf.Bytes(), []byte("exec 'bin/curtin' 'install'")) {
		t.Fatalf("expected the quoted install command embedded in the stub")
	}
}

func writeTempBinary(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "curtin-bin-*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("fake binary contents")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return f.Name()
}
