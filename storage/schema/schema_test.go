package schema

import (
	"strings"
	"testing"

	"github.com/canonical/curtin/storage"
)

func TestValidateAcceptsMinimalDisk(t *testing.T) {
	cfg := storage.Config{Version: 1, Items: []storage.Item{
		{"id": "sda", "type": "disk", "ptable": "gpt"},
	}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	cfg := storage.Config{Version: 2, Items: nil}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected an error for version != 1")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Fatalf("expected error to mention version, got: %v", err)
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	cfg := storage.Config{Version: 1, Items: []storage.Item{
		{"id": "sda1", "type": "partition", "device": "sda"},
	}}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected an error for missing required fields (number, size)")
	}
	if !strings.Contains(err.Error(), "sda1") {
		t.Fatalf("expected error to name the offending id, got: %v", err)
	}
}

func TestValidateRejectsUnknownType(t *testing.T) {
	cfg := storage.Config{Version: 1, Items: []storage.Item{
		{"id": "x", "type": "teleporter"},
	}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an unrecognized storage type")
	}
}

func TestValidateRejectsBadEnumValue(t *testing.T) {
	cfg := storage.Config{Version: 1, Items: []storage.Item{
		{"id": "sda", "type": "disk", "ptable": "apfs"},
	}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected an error for an out-of-enum ptable value")
	}
}

func TestValidateRejectsOverlongLabel(t *testing.T) {
	cfg := storage.Config{Version: 1, Items: []storage.Item{
		{"id": "sda1-fmt", "type": "format", "fstype": "fat32", "volume": "sda1",
			"label": "this-label-is-far-too-long-for-fat"},
	}}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected an error for a label exceeding fat's length limit")
	}
	if !strings.Contains(err.Error(), "label") {
		t.Fatalf("expected error to mention the label, got: %v", err)
	}
}

func TestValidateAcceptsRaidWithDevicesList(t *testing.T) {
	cfg := storage.Config{Version: 1, Items: []storage.Item{
		{"id": "md0", "type": "raid", "raidlevel": "1",
			"devices": []interface{}{"sda", "sdb"}},
	}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTopLevelTypesIncludesAllStorageTypes(t *testing.T) {
	ts := TopLevelTypes()
	if len(ts) != len(storage.AllTypes) {
		t.Fatalf("expected %d types, got %d", len(storage.AllTypes), len(ts))
	}
}
