package apply

import (
	"testing"

	"github.com/canonical/curtin/storage"
)

func TestPartitionDevicePathAppendsPSeparatorForDigitSuffixedParent(t *testing.T) {
	if got := partitionDevicePath("/dev/nvme0n1", 1); got != "/dev/nvme0n1p1" {
		t.Fatalf("expected nvme-style p-separator, got %q", got)
	}
	if got := partitionDevicePath("/dev/sda", 1); got != "/dev/sda1" {
		t.Fatalf("expected plain suffix for sd-style disk, got %q", got)
	}
}

func TestDiskPathPrefersExplicitPath(t *testing.T) {
	withPath := storage.Item{"id": "sda", "type": "disk", "path": "/dev/disk/by-id/whatever"}
	if got := diskPath(withPath); got != "/dev/disk/by-id/whatever" {
		t.Fatalf("expected explicit path to win, got %q", got)
	}
	withoutPath := storage.Item{"id": "sda", "type": "disk"}
	if got := diskPath(withoutPath); got != "/dev/sda" {
		t.Fatalf("expected fallback to /dev/<id>, got %q", got)
	}
}

func TestContextDevPathResolvesAfterSet(t *testing.T) {
	ctx := NewContext("/target")
	if _, err := ctx.devPath("sda"); err == nil {
		t.Fatalf("expected an error resolving an unset id")
	}
	ctx.setDevPath("sda", "/dev/sda")
	got, err := ctx.devPath("sda")
	if err != nil || got != "/dev/sda" {
		t.Fatalf("expected resolved path /dev/sda, got %q, err=%v", got, err)
	}
}

func TestApplyUnknownTypeErrors(t *testing.T) {
	ctx := NewContext("")
	cfg := []storage.Item{
		{"id": "x", "type": "not-a-real-type"},
	}
	if err := Apply(ctx, cfg); err == nil {
		t.Fatalf("expected an error for an unrecognized storage type")
	}
}

// TestApplyPreservedDiskSkipsDestructiveWork exercises the preserve branch
// directly through Apply: a preserved disk must never touch holders/wipe/
// partitioning tools, so this must succeed without any real block device
// or external command available.
func TestApplyPreservedDiskSkipsDestructiveWork(t *testing.T) {
	ctx := NewContext("")
	cfg := []storage.Item{
		{"id": "sda", "type": "disk", "path": "/dev/sda", "ptable": "gpt", "preserve": true},
	}
	if err := Apply(ctx, cfg); err != nil {
		t.Fatalf("unexpected error applying a preserved disk: %v", err)
	}
	got, err := ctx.devPath("sda")
	if err != nil || got != "/dev/sda" {
		t.Fatalf("expected disk path resolved to /dev/sda, got %q, err=%v", got, err)
	}
}

func TestApplyPreservedPartitionResolvesPathWithoutParent(t *testing.T) {
	ctx := NewContext("")
	cfg := []storage.Item{
		{"id": "sda", "type": "disk", "path": "/dev/sda", "preserve": true},
		{"id": "sda1", "type": "partition", "device": "sda", "number": 1, "size": 100, "preserve": true},
	}
	if err := Apply(ctx, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := ctx.devPath("sda1")
	if err != nil || got != "/dev/sda1" {
		t.Fatalf("expected /dev/sda1, got %q, err=%v", got, err)
	}
}

func TestMergeZpoolPropsAppliesDefaultsAndOverrides(t *testing.T) {
	props := mergeZpoolProps(map[string]interface{}{"atime": "on"})
	if props["ashift"] != "12" || props["version"] != "28" || props["normalization"] != "formD" || props["canmount"] != "off" {
		t.Fatalf("expected unmodified defaults, got %v", props)
	}
	if props["atime"] != "on" {
		t.Fatalf("expected user override to win over the default, got %v", props)
	}
}

func TestParseWipeModeAcceptsFixedEnum(t *testing.T) {
	for _, raw := range []string{"superblock", "superblock-recursive", "zero", "random"} {
		if _, ok := parseWipeMode(raw); !ok {
			t.Errorf("expected %q to be a recognized wipe mode", raw)
		}
	}
	if _, ok := parseWipeMode("not-a-mode"); ok {
		t.Fatalf("expected an unrecognized wipe mode to be rejected")
	}
	if _, ok := parseWipeMode(""); ok {
		t.Fatalf("expected an empty wipe mode to be rejected (caller treats that as 'no wipe')")
	}
}

func TestNextPartitionOffsetDefaultsThenAdvances(t *testing.T) {
	ctx := NewContext("")
	if got := ctx.nextPartitionOffset("sda"); got != partitionAlignment {
		t.Fatalf("expected the default alignment for a disk with no partitions yet, got %d", got)
	}
	ctx.advancePartitionCursor("sda", partitionAlignment, 100<<20)
	if got := ctx.nextPartitionOffset("sda"); got != partitionAlignment+100<<20 {
		t.Fatalf("expected the cursor to advance past the first partition's extent, got %d", got)
	}
}

func TestParseLsdasdStatusParsesWellFormedEntry(t *testing.T) {
	entry := `0.0.1520/dasdb/944
  status:               active
  type:                 ECKD
  blksz:                4096
  size:
  blocks:
  use_diag:             0
  readonly:             0
  eer_enabled:          0
  erplog:               0
  hpf:                  1
  uid:                  IBM.750000000DXP71.1500.20
  paths_installed:      10 11 12 13
  paths_in_use:         10 11 12
  paths_non_preferred:
`
	status, err := parseLsdasdStatus(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.BusID != "0.0.1520" || status.KName != "dasdb" || status.Status != "active" {
		t.Fatalf("unexpected parse result: %+v", status)
	}
}

func TestParseLsdasdStatusRejectsShortInput(t *testing.T) {
	if _, err := parseLsdasdStatus("0.0.1520/dasdb/944\n  status: n/f\n"); err == nil {
		t.Fatalf("expected an error for an entry with fewer than 15 lines")
	}
}

func TestApplyMissingDependencyPathErrors(t *testing.T) {
	ctx := NewContext("")
	cfg := []storage.Item{
		{"id": "sda1-fmt", "type": "format", "volume": "sda1", "fstype": "ext4"},
	}
	if err := Apply(ctx, cfg); err == nil {
		t.Fatalf("expected an error since sda1 was never resolved")
	}
}
