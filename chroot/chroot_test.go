package chroot

import (
	"strings"
	"testing"
)

func TestPolicyScriptExitsNonWhitelisted(t *testing.T) {
	if !strings.Contains(policyScript, "exit 101") {
		t.Fatalf("policy-rc.d script must exit 101 for non-whitelisted invocations")
	}
	if !strings.Contains(policyScript, "makedev|x11-common") {
		t.Fatalf("policy-rc.d script must whitelist makedev and x11-common")
	}
}

func TestTargetPathOnLiveSystem(t *testing.T) {
	tgt := &Target{root: "/"}
	if got := tgt.Path("/dev"); got != "/dev" {
		t.Fatalf("Path on live system should pass through unchanged, got %q", got)
	}
}

func TestTargetPathUnderMountPoint(t *testing.T) {
	tgt := &Target{root: "/mnt/target"}
	if got := tgt.Path("/dev"); got != "/mnt/target/dev" {
		t.Fatalf("got %q", got)
	}
}

func TestHasDevMount(t *testing.T) {
	tgt := &Target{root: "/mnt/target", mounts: []string{"/dev", "/proc"}}
	if !tgt.hasDevMount() {
		t.Fatalf("expected /dev to be recognized as a configured mount")
	}
	tgt2 := &Target{root: "/mnt/target", mounts: []string{"/proc"}}
	if tgt2.hasDevMount() {
		t.Fatalf("did not expect /dev to be recognized")
	}
}
