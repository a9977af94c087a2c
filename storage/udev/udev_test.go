package udev

import (
	"strings"
	"testing"
)

func TestParseExportSplitsKeyValuePairs(t *testing.T) {
	out := "DEVNAME='/dev/nvme0n1'\n" +
		"ID_PART_TABLE_UUID='ea0b9ddc-a114-4e01-b257-750d86e3a944'\n" +
		"DEVLINKS='/dev/disk/by-id/nvme-eui.0025388b710116a1 /dev/disk/by-id/nvme-n1'\n"
	info := parseExport(out)

	if info["DEVNAME"] != "/dev/nvme0n1" {
		t.Fatalf("unexpected DEVNAME: %q", info["DEVNAME"])
	}
	if info["ID_PART_TABLE_UUID"] != "ea0b9ddc-a114-4e01-b257-750d86e3a944" {
		t.Fatalf("unexpected ID_PART_TABLE_UUID: %q", info["ID_PART_TABLE_UUID"])
	}
	if !strings.Contains(info["DEVLINKS"], "nvme-n1") {
		t.Fatalf("unexpected DEVLINKS: %q", info["DEVLINKS"])
	}
}

func TestSanitizeDnameCollapsesForbiddenCharacters(t *testing.T) {
	a := SanitizeDname("my disk!")
	b := SanitizeDname("my?disk#")
	if a != b {
		t.Fatalf("expected names differing only in forbidden characters to collapse, got %q vs %q", a, b)
	}
	if a != "my-disk-" {
		t.Fatalf("unexpected sanitized name: %q", a)
	}
}

func TestSanitizeDnamePreservesSafeCharacters(t *testing.T) {
	if got := SanitizeDname("root-vg_lv.1"); got != "root-vg_lv.1" {
		t.Fatalf("expected safe characters preserved unchanged, got %q", got)
	}
}

func TestStableKeyForKnownTypes(t *testing.T) {
	cases := map[string]string{
		"disk":          "ID_PART_TABLE_UUID",
		"partition":     "ID_PART_ENTRY_UUID",
		"raid":          "MD_UUID",
		"lvm_partition": "DM_NAME",
	}
	for typ, want := range cases {
		got, err := StableKeyFor(typ)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", typ, err)
		}
		if got != want {
			t.Errorf("StableKeyFor(%s) = %s, want %s", typ, got, want)
		}
	}
}

func TestStableKeyForUnknownTypeErrors(t *testing.T) {
	if _, err := StableKeyFor("zpool"); err == nil {
		t.Fatalf("expected an error for a type with no stable dname key")
	}
}

func TestRenderRulesIsSortedAndStable(t *testing.T) {
	entries := []DnameEntry{
		{MatchKey: "DM_NAME", KeyValue: "vg-root", Name: "root-disk"},
		{MatchKey: "ID_PART_TABLE_UUID", KeyValue: "abc-123", Name: "boot-disk"},
	}
	out := RenderRules(entries)
	bootIdx := strings.Index(out, "boot-disk")
	rootIdx := strings.Index(out, "root-disk")
	if bootIdx == -1 || rootIdx == -1 || bootIdx > rootIdx {
		t.Fatalf("expected rules sorted by name (boot-disk before root-disk), got:\n%s", out)
	}
}
