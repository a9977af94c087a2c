package version

import "testing"

func TestFeatureStringEnumeratesFixedSet(t *testing.T) {
	out := FeatureString()
	for _, want := range []string{"STORAGE_CONFIG_V1", "NETWORK_CONFIG_V1", "HAS_VERSION_MODULE"} {
		if !containsLine(out, want) {
			t.Errorf("expected feature string to contain %q, got:\n%s", want, out)
		}
	}
}

func TestHasFeatureRecognizesKnownAndUnknown(t *testing.T) {
	if !HasFeature("APT_CONFIG_V1") {
		t.Fatalf("expected APT_CONFIG_V1 to be a recognized feature")
	}
	if HasFeature("NOT_A_REAL_FEATURE") {
		t.Fatalf("expected an unrecognized feature name to report false")
	}
}

func TestRequireAtLeastPassesWhenUnset(t *testing.T) {
	if err := RequireAtLeast(""); err != nil {
		t.Fatalf("unexpected error for an empty minimum version: %v", err)
	}
}

func TestRequireAtLeastIgnoresUnparseableHint(t *testing.T) {
	if err := RequireAtLeast("not-a-semver"); err != nil {
		t.Fatalf("expected an unparseable hint to be ignored, got: %v", err)
	}
}

func TestRequireAtLeastRejectsNewerMinimum(t *testing.T) {
	if err := RequireAtLeast("999.0.0"); err == nil {
		t.Fatalf("expected an error when the required minimum exceeds the build version")
	}
}

func containsLine(s, line string) bool {
	for i := 0; i+len(line) <= len(s); i++ {
		if s[i:i+len(line)] == line {
			return true
		}
	}
	return false
}
