package mkfs

import "testing"

func TestGetFlagMappingLabelSubstitutesParam(t *testing.T) {
	flags, err := getFlagMapping("label", "ext", "root", true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flags) != 2 || flags[0] != "-L" || flags[1] != "root" {
		t.Fatalf("unexpected flags: %v", flags)
	}
}

func TestGetFlagMappingForceHasNoParam(t *testing.T) {
	flags, err := getFlagMapping("force", "xfs", "", false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flags) != 1 || flags[0] != "-f" {
		t.Fatalf("unexpected flags: %v", flags)
	}
}

func TestGetFlagMappingUnsupportedFlagLenientIsSilent(t *testing.T) {
	flags, err := getFlagMapping("fatsize", "ext", "32", true, false)
	if err != nil {
		t.Fatalf("unexpected error in non-strict mode: %v", err)
	}
	if flags != nil {
		t.Fatalf("expected no flags for an unsupported family, got %v", flags)
	}
}

func TestGetFlagMappingUnsupportedFlagStrictErrors(t *testing.T) {
	if _, err := getFlagMapping("fatsize", "ext", "32", true, true); err == nil {
		t.Fatalf("expected an error in strict mode for an unsupported flag/family pair")
	}
}

func TestGetFlagMappingUnknownFlagNameErrors(t *testing.T) {
	if _, err := getFlagMapping("bogus", "ext", "", false, false); err == nil {
		t.Fatalf("expected an error for an unrecognized flag name")
	}
}

func TestFamilyCollapsesVariants(t *testing.T) {
	cases := map[string]string{
		"ext4": "ext", "ext3": "ext", "ext2": "ext",
		"fat32": "fat", "vfat": "fat",
		"xfs": "xfs", "btrfs": "btrfs",
	}
	for fstype, want := range cases {
		if got := family(fstype); got != want {
			t.Errorf("family(%q) = %q, want %q", fstype, got, want)
		}
	}
}

func TestMkfsUnsupportedFstypeErrors(t *testing.T) {
	if _, err := Mkfs(nil, "/dev/null", "zfs-dataset", Options{}); err == nil {
		t.Fatalf("expected an error for an fstype mkfs doesn't know how to build")
	}
}

func TestMkfsMissingPathErrors(t *testing.T) {
	if _, err := Mkfs(nil, "", "ext4", Options{}); err == nil {
		t.Fatalf("expected an error for an empty path")
	}
}

func TestValidFstypesIncludesCommonTypes(t *testing.T) {
	set := make(map[string]bool)
	for _, f := range ValidFstypes() {
		set[f] = true
	}
	for _, want := range []string{"ext4", "xfs", "btrfs", "swap", "vfat"} {
		if !set[want] {
			t.Errorf("expected %q to be a valid fstype", want)
		}
	}
}
