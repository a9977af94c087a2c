// Package pack builds curtin's self-extracting installer archive and
// implements the multicall self-reexec convention used to invoke it.
// Grounded on curtin/pack.py's pack()/pack_install()/write_exe_wrapper()
// (the shell-stub-plus-payload shape, the entrypoint-probing header) and
// on mantle/system/exec/multicall.go (the argv[1] entrypoint-dispatch
// convention), adapted: the payload here is a tree of prebuilt Go `curtin`
// binaries, one per target architecture, instead of a python source tree,
// so the probing wrapper picks a binary instead of an interpreter.
package pack

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// entryArgPrefix marks argv[1] as a multicall entrypoint selector, exactly
// as mantle/system/exec/multicall.go's entryArgPrefix does.
const entryArgPrefix = "_MULTICALL_ENTRYPOINT_"

type entrypointFn func(args []string) error

var entrypoints = make(map[string]entrypointFn)

// Entrypoint names a registered multicall command.
type Entrypoint string

// NewEntrypoint registers fn under name, to be invoked when the running
// binary is re-exec'd with argv[1] == "_MULTICALL_ENTRYPOINT_"+name.
// Packages register their multicall commands from an init func.
func NewEntrypoint(name string, fn func(args []string) error) Entrypoint {
	if _, ok := entrypoints[name]; ok {
		panic(fmt.Errorf("pack: entrypoint %q already registered", name))
	}
	entrypoints[name] = fn
	return Entrypoint(name)
}

// MaybeExec checks whether the process was invoked as a multicall
// entrypoint and, if so, runs it and exits the process — never returning.
// Called at the very top of main(), before cobra parses anything.
func MaybeExec() {
	if len(os.Args) < 2 || !strings.HasPrefix(os.Args[1], entryArgPrefix) {
		return
	}
	name := os.Args[1][len(entryArgPrefix):]
	fn, ok := entrypoints[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "pack: no such entrypoint %q\n", name)
		os.Exit(1)
	}
	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// Args builds the argv for re-executing the current binary as this
// entrypoint, suitable for passing straight to system/exec.Run: argv[0] is
// resolved from /proc/self/exe (as mantle's multicall.go does), argv[1] is
// the entrypoint selector MaybeExec looks for.
func (e Entrypoint) Args(args ...string) ([]string, error) {
	self, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return nil, errors.Wrap(err, "resolving current executable")
	}
	return append([]string{self, entryArgPrefix + string(e)}, args...), nil
}

// callEntryPointHeader mirrors CALL_ENTRY_POINT_SH_HEADER: a small
// POSIX-sh preamble recording which binaries are candidates and letting
// the caller override the choice via an environment variable.
const callEntryPointHeader = `#!/bin/sh
CURTIN_ARCH_CANDIDATES=${CURTIN_ARCH_CANDIDATES:-"%s"}
CURTIN_BINARY=${CURTIN_BINARY}
CURTIN_DEBUG=${CURTIN_DEBUG:-0}`

// callEntryPointBody mirrors CALL_ENTRY_POINT_SH_BODY's probing loop, but
// probes a directory of prebuilt curtin-<arch> binaries instead of a list
// of python interpreter names: the payload is an already-compiled binary
// per architecture, so "probing" means picking the one matching `uname -m`
// (with the rest tried in order if that one is missing).
const callEntryPointBody = `
debug() {
   [ "$CURTIN_DEBUG" != "0" ] || return 0
   echo "$@" 1>&2
}
fail() { echo "$@" 1>&2; exit 1; }

mydir=${0%/*}
archdir="$mydir/arch"

if [ -z "$CURTIN_BINARY" ]; then
    native=$(uname -m)
    oifs="$IFS"; IFS=" "
    for a in "$native" $CURTIN_ARCH_CANDIDATES; do
        cand="$archdir/curtin-$a"
        if [ -x "$cand" ]; then
            CURTIN_BINARY="$cand"
            debug "selected $cand for arch candidate $a"
            break
        fi
    done
    IFS="$oifs"
    [ -n "$CURTIN_BINARY" ] || fail "no curtin binary for this architecture (tried: $native $CURTIN_ARCH_CANDIDATES)"
fi
debug "executing: $CURTIN_BINARY $*"
exec "$CURTIN_BINARY" "$@"
`

// WriteExeWrapper renders the bin/curtin launcher script for the given
// ordered list of architecture candidates (e.g. "amd64", "arm64"),
// matching write_exe_wrapper's shape.
func WriteExeWrapper(archCandidates []string) string {
	header := fmt.Sprintf(callEntryPointHeader, strings.Join(archCandidates, " "))
	return header + "\n" + callEntryPointBody
}

// Paths names the directories pack assembles into the archive tree:
// one prebuilt curtin binary per architecture, plus any helper scripts
// shipped alongside (udev rules, hook scripts).
type Paths struct {
	// Binaries maps architecture name ("amd64", "arm64", ...) to the
	// path of a prebuilt curtin binary for that architecture.
	Binaries map[string]string
	// Helpers is a directory of auxiliary files copied into the
	// archive verbatim (e.g. default hook scripts).
	Helpers string
}

// FileEntry is one (archive-relative path, source) pair: either a file to
// copy from disk (CopyFrom set) or inline content (Content set).
type FileEntry struct {
	ArchivePath string
	CopyFrom    string
	Content     []byte
}

// Options configures a single Pack call.
type Options struct {
	Paths Paths
	// Command is the argv the extracted archive runs after unpacking,
	// e.g. ["curtin", "install", "--config=configs/config-000.cfg"].
	Command []string
	// Files are extra entries (configs, add_files/copy_files) merged
	// into the archive tree.
	Files []FileEntry
}

// Pack builds a self-extracting shell archive containing every
// architecture's curtin binary, the launcher wrapper, and any extra
// files, then writes it to w: a POSIX sh stub that self-extracts an
// embedded tar.gz payload into a temp directory and execs Command there.
// Mirrors pack()'s fdout-streaming shape, without curtin.py's dependency
// on an external `shell-archive` helper binary (not present in this
// module's toolchain), using the standard library's archive/tar instead.
func Pack(w io.Writer, opts Options) error {
	if len(opts.Paths.Binaries) == 0 {
		return errors.New("pack: no binaries provided")
	}

	var payload bytes.Buffer
	gz := gzip.NewWriter(&payload)
	tw := tar.NewWriter(gz)

	archCandidates := make([]string, 0, len(opts.Paths.Binaries))
	for arch := range opts.Paths.Binaries {
		archCandidates = append(archCandidates, arch)
	}

	for arch, binPath := range opts.Paths.Binaries {
		if err := addFile(tw, "arch/curtin-"+arch, binPath, 0o755); err != nil {
			return errors.Wrapf(err, "packing binary for arch %s", arch)
		}
	}

	wrapper := WriteExeWrapper(archCandidates)
	if err := addContent(tw, "bin/curtin", []byte(wrapper), 0o755); err != nil {
		return errors.Wrap(err, "packing launcher wrapper")
	}

	if opts.Paths.Helpers != "" {
		if err := addTree(tw, "helpers", opts.Paths.Helpers); err != nil {
			return errors.Wrap(err, "packing helpers tree")
		}
	}

	for _, f := range opts.Files {
		target := filepath.Clean(f.ArchivePath)
		if strings.HasPrefix(target, "..") {
			return errors.Errorf("%q resolves outside the archive", f.ArchivePath)
		}
		if f.CopyFrom != "" {
			if err := addFile(tw, target, f.CopyFrom, 0o644); err != nil {
				return errors.Wrapf(err, "packing %s", f.ArchivePath)
			}
		} else {
			if err := addContent(tw, target, f.Content, 0o644); err != nil {
				return errors.Wrapf(err, "packing %s", f.ArchivePath)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}

	command := opts.Command
	if len(command) == 0 {
		command = []string{"bin/curtin"}
	}
	stub := fmt.Sprintf(
		"#!/bin/sh\nset -e\nd=$(mktemp -d)\ntrap 'rm -rf \"$d\"' EXIT\ntail -n +%%LINES%% \"$0\" | gzip -dc | (cd \"$d\" && tar -xf -)\ncd \"$d\"\nexec %s\nexit 1\n# PAYLOAD FOLLOWS\n",
		quoteArgs(command))
	lineCount := strings.Count(stub, "\n") + 1
	stub = strings.Replace(stub, "%LINES%", fmt.Sprintf("%d", lineCount), 1)

	if _, err := io.WriteString(w, stub); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

func quoteArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(out, " ")
}

func addFile(tw *tar.Writer, archivePath, srcPath string, mode int64) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	return addContent(tw, archivePath, data, mode)
}

func addContent(tw *tar.Writer, archivePath string, content []byte, mode int64) error {
	hdr := &tar.Header{
		Name: archivePath,
		Mode: mode,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func addTree(tw *tar.Writer, archivePrefix, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		mode := int64(0o644)
		if info.Mode()&0o111 != 0 {
			mode = 0o755
		}
		return addFile(tw, filepath.Join(archivePrefix, rel), path, mode)
	})
}

// InstallOptions configures PackInstall.
type InstallOptions struct {
	Paths       Paths
	Configs     [][]byte
	ExtraArgs   []string
	InstallDeps bool
}

// PackInstall builds the archive that, on extraction, runs `curtin install`
// against the embedded configs, mirroring pack_install()'s config
// serialization (configs/config-NNN.cfg) and --install-deps flag.
func PackInstall(w io.Writer, opts InstallOptions) error {
	command := []string{"bin/curtin"}
	if opts.InstallDeps {
		command = append(command, "--install-deps")
	}
	command = append(command, "install")

	var files []FileEntry
	for n, cfg := range opts.Configs {
		apath := fmt.Sprintf("configs/config-%03d.cfg", n)
		files = append(files, FileEntry{ArchivePath: apath, Content: cfg})
		command = append(command, "--config="+apath)
	}
	command = append(command, opts.ExtraArgs...)

	return Pack(w, Options{Paths: opts.Paths, Command: command, Files: files})
}
