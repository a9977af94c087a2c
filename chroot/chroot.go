// Package chroot implements ChrootableTarget: scoped acquisition of a target
// root for commands that need /dev, /proc, /run and /sys bind-mounted in,
// a working resolv.conf, and (optionally) daemon starts inhibited via a
// policy-rc.d stub. Every acquired resource is torn down in LIFO order on
// exit, on every path, including when the caller's work panics or errors.
package chroot

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/canonical/curtin/lang/scope"
	"github.com/canonical/curtin/system/exec"
)

var plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "chroot")

// defaultMounts matches curtin/util.py's ChrootableTarget.mounts default.
var defaultMounts = []string{"/dev", "/proc", "/run", "/sys"}

const policyRCD = "/usr/sbin/policy-rc.d"

// policyScript exits 101 ("do not run") for every invocation except the
// makedev/x11-common whitelist, taken verbatim from
// curtin/util.py's disable_daemons_in_root.
const policyScript = `#!/bin/sh
# see invoke-rc.d for exit codes. 101 is "do not run"
while true; do
   case "$1" in
      -*) shift;;
      makedev|x11-common) exit 0;;
      *) exit 101;;
   esac
done
`

// Options configures a Target.
type Options struct {
	// AllowDaemons skips installing policy-rc.d.
	AllowDaemons bool
	// SysResolvconf restores the target's original resolv.conf on exit.
	// Defaults to true when zero-valued callers use New.
	SysResolvconf bool
	// Mounts overrides the default [/dev,/proc,/run,/sys] bind-mount list.
	Mounts []string
}

// Target is an entered ChrootableTarget. Construct with Enter; always call
// Exit, typically via defer.
type Target struct {
	root          string
	allowDaemons  bool
	sysResolvconf bool
	mounts        []string
	teardown      scope.Stack

	disabledDaemons bool
	resolvTempDir   string
	resolvSaved     string
}

// New prepares options with curtin's defaults: daemons inhibited, resolv.conf
// restored on exit, the standard four bind mounts.
func New() Options {
	return Options{SysResolvconf: true, Mounts: append([]string{}, defaultMounts...)}
}

// Enter acquires the target: bind-mounts each configured path, optionally
// installs policy-rc.d, and replaces resolv.conf if target != "/".
func Enter(root string, opts Options) (*Target, error) {
	if root == "" {
		root = "/"
	}
	mounts := opts.Mounts
	if mounts == nil {
		mounts = defaultMounts
	}

	t := &Target{
		root:          root,
		allowDaemons:  opts.AllowDaemons,
		sysResolvconf: opts.SysResolvconf,
		mounts:        mounts,
	}

	for _, p := range mounts {
		tpath := t.Path(p)
		mounted, err := isMounted(tpath)
		if err != nil {
			t.teardown.Unwind()
			return nil, errors.Wrapf(err, "checking mount state of %s", tpath)
		}
		if mounted {
			continue
		}
		if err := os.MkdirAll(tpath, 0755); err != nil {
			t.teardown.Unwind()
			return nil, errors.Wrapf(err, "creating mount point %s", tpath)
		}
		if _, err := exec.Run([]string{"mount", "--bind", p, tpath}, exec.Options{Capture: true}); err != nil {
			t.teardown.Unwind()
			return nil, errors.Wrapf(err, "bind-mounting %s onto %s", p, tpath)
		}
		mount := tpath
		t.teardown.Push("unmount "+mount, func() error {
			_, err := exec.Run([]string{"umount", mount}, exec.Options{Capture: true})
			return err
		})
	}

	if !t.allowDaemons {
		created, err := disableDaemons(t.root)
		if err != nil {
			t.teardown.Unwind()
			return nil, err
		}
		t.disabledDaemons = created
	}

	if err := t.replaceResolvConf(); err != nil {
		t.teardown.Unwind()
		return nil, err
	}

	return t, nil
}

// Path joins p onto the target root, the way curtin's paths.target_path does.
func (t *Target) Path(p string) string {
	if t.root == "/" {
		return p
	}
	return filepath.Join(t.root, p)
}

// Subp runs a command chrooted into this target.
func (t *Target) Subp(args []string, opts exec.Options) (exec.Result, error) {
	opts.Target = t.root
	return exec.Run(args, opts)
}

// Exit reverses every acquired resource in LIFO order: removes policy-rc.d
// if we created it, settles udev before unmounting /dev if /dev is one of
// our mounts, unmounts everything, and restores resolv.conf. Failures are
// logged and do not prevent later teardown steps from running; the first
// unmount error, if any, is returned so it can be surfaced without masking
// whatever error the caller's own work produced (policy-rc.d removal, udev
// settle and resolv.conf restore failures are only logged).
func (t *Target) Exit() error {
	if t.disabledDaemons {
		if err := os.Remove(t.Path(policyRCD)); err != nil && !os.IsNotExist(err) {
			plog.Errorf("removing policy-rc.d failed: %v", err)
		}
	}

	if t.hasDevMount() {
		if _, err := exec.Run([]string{"udevadm", "settle"}, exec.Options{Capture: true}); err != nil {
			plog.Errorf("udevadm settle before unmounting /dev failed: %v", err)
		}
	}

	err := t.teardown.Unwind()

	if t.sysResolvconf && t.resolvTempDir != "" {
		rconf := t.Path("/etc/resolv.conf")
		if t.resolvSaved != "" {
			if _, statErr := os.Lstat(t.resolvSaved); statErr == nil {
				if renameErr := os.Rename(t.resolvSaved, rconf); renameErr != nil {
					plog.Errorf("restoring resolv.conf failed: %v", renameErr)
				}
			}
		}
		if rmErr := os.RemoveAll(t.resolvTempDir); rmErr != nil {
			plog.Errorf("removing resolv.conf temp dir failed: %v", rmErr)
		}
	}

	return err
}

func (t *Target) hasDevMount() bool {
	dev := t.Path("/dev")
	for _, m := range t.mounts {
		if t.Path(m) == dev {
			return true
		}
	}
	return false
}

func disableDaemons(root string) (bool, error) {
	fpath := joinTarget(root, policyRCD)
	if _, err := os.Stat(fpath); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(fpath), 0755); err != nil {
		return false, errors.Wrapf(err, "creating %s", filepath.Dir(fpath))
	}
	if err := os.WriteFile(fpath, []byte(policyScript), 0755); err != nil {
		return false, errors.Wrapf(err, "writing %s", fpath)
	}
	return true, nil
}

func (t *Target) replaceResolvConf() error {
	if t.root == "/" {
		// never muck with resolv.conf on the live system
		return nil
	}
	targetEtc := t.Path("/etc")
	if fi, err := os.Stat(targetEtc); err != nil || !fi.IsDir() {
		return nil
	}

	rconf := filepath.Join(targetEtc, "resolv.conf")
	tmpDir, err := os.MkdirTemp(targetEtc, ".curtin-resolvconf")
	if err != nil {
		return errors.Wrapf(err, "creating resolv.conf staging dir under %s", targetEtc)
	}

	if _, err := os.Lstat(rconf); err == nil {
		saved := filepath.Join(tmpDir, "resolv.conf")
		if err := os.Rename(rconf, saved); err != nil {
			os.RemoveAll(tmpDir)
			return errors.Wrapf(err, "saving existing %s", rconf)
		}
		t.resolvSaved = saved
	}

	hostResolv, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		if t.resolvSaved != "" {
			os.Rename(t.resolvSaved, rconf)
		}
		os.RemoveAll(tmpDir)
		return errors.Wrap(err, "reading host resolv.conf")
	}
	if err := os.WriteFile(rconf, hostResolv, 0644); err != nil {
		if t.resolvSaved != "" {
			os.Rename(t.resolvSaved, rconf)
		}
		os.RemoveAll(tmpDir)
		return errors.Wrapf(err, "writing %s", rconf)
	}

	t.resolvTempDir = tmpDir
	return nil
}

func joinTarget(root, p string) string {
	if root == "/" {
		return p
	}
	return filepath.Join(root, p)
}

// isMounted reports whether path appears as a mount point in
// /proc/self/mountinfo.
func isMounted(path string) (bool, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return false, err
	}
	defer f.Close()

	clean := filepath.Clean(path)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		if fields[4] == clean {
			return true, nil
		}
	}
	return false, scanner.Err()
}
