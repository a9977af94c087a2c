// Package install implements curtin's install pipeline: a scratch
// WorkingDirectory exported to child commands via a fixed set of
// environment variables, and a staged, key-sorted command runner.
// Grounded on curtin/commands/install.py's WorkingDir/Stage/cmd_install
// and curtin/util.py's load_command_environment mapping table.
package install

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/canonical/curtin/lang/scope"
	"github.com/canonical/curtin/storage/udev"
	"github.com/canonical/curtin/system/exec"
)

var plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "install")

// DefaultStages is the builtin stage order, matching cmd_install's
// CONFIG_BUILTIN['stages'].
var DefaultStages = []string{"early", "partitioning", "network", "extract", "hook", "final"}

// WorkingDirectory is curtin's per-install scratch area: a top directory
// holding state/ (config, fstab, interfaces), scratch/ (stage working
// files) and target/ (the mount point commands install onto). Grounded on
// WorkingDir.__init__.
type WorkingDirectory struct {
	Top     string
	State   string
	Scratch string
	Target  string

	ConfigFile     string
	FstabFile      string
	InterfacesFile string
}

// NewWorkingDirectory creates a fresh top-level temp directory with the
// state/scratch/target layout and writes configContent to state/config.
func NewWorkingDirectory(configContent []byte) (*WorkingDirectory, error) {
	top, err := os.MkdirTemp("", "curtin-install-")
	if err != nil {
		return nil, errors.Wrap(err, "creating working directory")
	}
	wd := &WorkingDirectory{
		Top:     top,
		State:   filepath.Join(top, "state"),
		Scratch: filepath.Join(top, "scratch"),
		Target:  filepath.Join(top, "target"),
	}
	for _, d := range []string{wd.State, wd.Scratch, wd.Target} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			os.RemoveAll(top)
			return nil, errors.Wrapf(err, "creating %s", d)
		}
	}

	wd.ConfigFile = filepath.Join(wd.State, "config")
	wd.FstabFile = filepath.Join(wd.State, "fstab")
	wd.InterfacesFile = filepath.Join(wd.State, "interfaces")

	if err := os.WriteFile(wd.ConfigFile, configContent, 0o644); err != nil {
		os.RemoveAll(top)
		return nil, errors.Wrap(err, "writing state/config")
	}
	for _, f := range []string{wd.FstabFile, wd.InterfacesFile} {
		if err := touch(f); err != nil {
			os.RemoveAll(top)
			return nil, err
		}
	}
	return wd, nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "touching %s", path)
	}
	return f.Close()
}

// Env renders the environment variable mapping every stage command runs
// with, matching load_command_environment's name table exactly
// (WORKING_DIR, OUTPUT_FSTAB, OUTPUT_INTERFACES, TARGET_MOUNT_POINT,
// CONFIG, OUTPUT_NETWORK_STATE, OUTPUT_NETWORK_CONFIG, CURTIN_REPORTSTACK).
func (wd *WorkingDirectory) Env(networkState, networkConfig, reportStackPrefix string) []string {
	base := os.Environ()
	overrides := map[string]string{
		"WORKING_DIR":           wd.Scratch,
		"OUTPUT_FSTAB":          wd.FstabFile,
		"OUTPUT_INTERFACES":     wd.InterfacesFile,
		"TARGET_MOUNT_POINT":    wd.Target,
		"CONFIG":                wd.ConfigFile,
		"OUTPUT_NETWORK_STATE":  networkState,
		"OUTPUT_NETWORK_CONFIG": networkConfig,
		"CURTIN_REPORTSTACK":    reportStackPrefix,
	}
	return mergeEnv(base, overrides)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key := kv
		if eq := indexByte(kv, '='); eq >= 0 {
			key = kv[:eq]
		}
		if v, ok := overrides[key]; ok {
			out = append(out, key+"="+v)
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		if !seen[k] {
			out = append(out, k+"="+v)
		}
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Close settles udev, unmounts target/{sys,dev,proc} then target/ itself
// (best-effort, collecting but not stopping on individual failures,
// mirroring cmd_install's `finally` block), and removes the working
// directory tree. The stack unwinds LIFO, so steps are pushed in reverse.
func (wd *WorkingDirectory) Close() error {
	var stack scope.Stack
	stack.Push("unmount target", func() error {
		_, err := exec.Run([]string{"umount", wd.Target}, exec.Options{AllowedExitCodes: []int{0, 1, 32}})
		return err
	})
	for _, sub := range []string{"proc", "dev", "sys"} {
		p := filepath.Join(wd.Target, sub)
		stack.Push("unmount "+p, func() error {
			_, err := exec.Run([]string{"umount", p}, exec.Options{AllowedExitCodes: []int{0, 1, 32}})
			return err
		})
	}
	stack.Push("settle udev before unmount", func() error { return udev.Settle() })
	err := stack.Unwind()
	if rmErr := os.RemoveAll(wd.Top); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// Stage is one named phase of the install pipeline: a set of named
// commands run in sorted-key order, each either a list (run directly) or
// a string (run through `sh -c`), matching Stage.run().
type Stage struct {
	Name     string
	Commands map[string]interface{}
}

// Run executes every command in the stage in sorted key order, within
// env, stopping at (and returning) the first failure.
func (s Stage) Run(env []string) error {
	names := make([]string, 0, len(s.Commands))
	for name := range s.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		start := time.Now()
		if err := runStageCommand(s.Commands[name], env); err != nil {
			plog.Warningf("%s command failed after %s", name, time.Since(start))
			return errors.Wrapf(err, "stage %s command %s", s.Name, name)
		}
		plog.Debugf("%s command %s completed in %s", s.Name, name, time.Since(start))
	}
	return nil
}

func runStageCommand(cmd interface{}, env []string) error {
	switch v := cmd.(type) {
	case []string:
		_, err := exec.Run(v, exec.Options{Env: env})
		return err
	case []interface{}:
		args := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return errors.Errorf("unsupported command element type %T", e)
			}
			args = append(args, s)
		}
		_, err := exec.Run(args, exec.Options{Env: env})
		return err
	case string:
		_, err := exec.Run([]string{v}, exec.Options{Env: env, Shell: true})
		return err
	default:
		return errors.Errorf("unsupported command value type %T", cmd)
	}
}

// Pipeline runs every named stage, in the fixed DefaultStages order unless
// stages overrides it, notifying systemd (when running under one, a
// no-op otherwise) of the current stage via sd_notify STATUS updates, per
// SPEC_FULL's ambient observability note for long-running install runs.
type Pipeline struct {
	Stages   []string
	Commands map[string]Stage // stage name -> its Stage (commands pre-resolved)
}

// Run executes every configured stage in order within wd's environment.
// Unless unmountDisabled, wd.Close() is always called on the way out,
// matching the python command's unconditional `finally` teardown; passing
// unmountDisabled true corresponds to the `install.unmount: disabled`
// config override, leaving the target mounted for a later step to use.
func (p Pipeline) Run(wd *WorkingDirectory, env []string, unmountDisabled bool) error {
	if !unmountDisabled {
		defer func() {
			if err := wd.Close(); err != nil {
				plog.Errorf("tearing down working directory: %v", err)
			}
		}()
	}

	stages := p.Stages
	if len(stages) == 0 {
		stages = DefaultStages
	}

	_, _ = daemon.SdNotify(false, "STATUS=curtin install starting")
	for _, name := range stages {
		stage, ok := p.Commands[name]
		if !ok {
			continue
		}
		_, _ = daemon.SdNotify(false, "STATUS=curtin install: stage "+name)
		if err := stage.Run(env); err != nil {
			return err
		}
	}
	_, _ = daemon.SdNotify(false, "READY=1\nSTATUS=curtin install complete")
	return nil
}
