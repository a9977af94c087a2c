package config

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestMergeConfigDeepMerge(t *testing.T) {
	a := Config{"x": Config{"y": 1, "z": 2}}
	b := Config{"x": Config{"z": 3, "w": 4}}
	MergeConfig(a, b)

	x, ok := asConfig(a["x"])
	if !ok {
		t.Fatalf("expected a[x] to remain a mapping")
	}
	if x["y"] != 1 || x["z"] != 3 || x["w"] != 4 {
		t.Fatalf("got %#v", x)
	}
}

func TestMergeConfigScalarOverwrite(t *testing.T) {
	a := Config{"x": Config{"y": 1}}
	b := Config{"x": "replaced"}
	MergeConfig(a, b)
	if a["x"] != "replaced" {
		t.Fatalf("scalar should win over mapping when replacing, got %#v", a["x"])
	}
}

func TestMergeConfigIdempotentWhenSubset(t *testing.T) {
	a := Config{"x": Config{"y": 1, "z": 2}}
	b := Config{"x": Config{"z": 2}}
	MergeConfig(a, b)
	x, _ := asConfig(a["x"])
	if x["y"] != 1 || x["z"] != 2 {
		t.Fatalf("merge of a subset changed values: %#v", x)
	}
}

func TestCmdArg2CfgNested(t *testing.T) {
	v, err := CmdArg2Cfg("a/b/c=val", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, ok := v.(Config)
	if !ok {
		t.Fatalf("expected Config, got %T", v)
	}
	b, ok := asConfig(cfg["a"])
	if !ok {
		t.Fatalf("expected nested mapping at a")
	}
	c, ok := asConfig(b["b"])
	if !ok {
		t.Fatalf("expected nested mapping at a/b")
	}
	if c["c"] != "val" {
		t.Fatalf("got %#v", c)
	}
}

func TestCmdArg2CfgJSON(t *testing.T) {
	v, err := CmdArg2Cfg("json:a=[1,2]", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := v.(Config)
	list, ok := cfg["a"].([]interface{})
	if !ok {
		t.Fatalf("expected a list at key a, got %#v", cfg["a"])
	}
	if len(list) != 2 {
		t.Fatalf("got %#v", list)
	}
}

func TestCmdArg2CfgMissingEqualsIsError(t *testing.T) {
	if _, err := CmdArg2Cfg("a/b/c", "/"); err == nil {
		t.Fatalf("expected an error for a missing '='")
	}
}

func TestCmdArg2CfgEmptyFinalSegmentReplacesWhole(t *testing.T) {
	v, err := CmdArg2Cfg("json:=[1,2]", "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, ok := v.([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("expected the raw decoded value, got %#v", v)
	}
}

func TestLoadConfigArchive(t *testing.T) {
	archive := ArchiveHeader + "\n- |\n    " + ConfigHeader + "\n    storage:\n      version: 1\n"
	cfg, err := parseConfigContent(archive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	storage, ok := asConfig(cfg["storage"])
	if !ok {
		t.Fatalf("expected a storage key, got %#v", cfg)
	}
	if storage["version"] != 1 {
		t.Fatalf("got %#v", storage)
	}
}

func TestDumpConfigRoundTrips(t *testing.T) {
	cfg := Config{"storage": Config{"version": 1}}
	out, err := DumpConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reparsed, err := parseConfigContent(out)
	if err != nil {
		t.Fatalf("dumped config did not reparse: %v", err)
	}
	storage, ok := asConfig(reparsed["storage"])
	if !ok || storage["version"] != 1 {
		t.Fatalf("round trip mismatch: %#v", reparsed)
	}
}

func TestValueAsBoolean(t *testing.T) {
	falsy := []interface{}{nil, false, 0, "0", "False", "false", "None", "none", ""}
	for _, v := range falsy {
		if ValueAsBoolean(v) {
			t.Errorf("expected %#v to be falsy", v)
		}
	}
	truthy := []interface{}{true, 1, "yes", "anything"}
	for _, v := range truthy {
		if !ValueAsBoolean(v) {
			t.Errorf("expected %#v to be truthy", v)
		}
	}
}

func TestMergeConfigDeepMergeAcrossThreeLayers(t *testing.T) {
	cfg := Config{
		"storage": Config{
			"config": []interface{}{
				Config{"id": "disk0", "type": "disk", "ptable": "gpt"},
			},
		},
		"install": Config{"unmount": "disabled"},
	}
	MergeConfig(cfg, Config{
		"storage": Config{"version": 1},
		"install": Config{"log_file": "/var/log/curtin.log"},
		"stages":  []interface{}{"early", "partitioning"},
	})

	want := Config{
		"storage": Config{
			"version": 1,
			"config": []interface{}{
				Config{"id": "disk0", "type": "disk", "ptable": "gpt"},
			},
		},
		"install": Config{"unmount": "disabled", "log_file": "/var/log/curtin.log"},
		"stages":  []interface{}{"early", "partitioning"},
	}
	if diff := pretty.Compare(cfg, want); diff != "" {
		t.Fatalf("merged config did not match expectations (-got +want):\n%s", diff)
	}
}

func TestNormalizeProxyMigratesLegacyKey(t *testing.T) {
	cfg := Config{"http_proxy": "http://proxy:3128"}
	NormalizeProxy(cfg)
	if _, exists := cfg["http_proxy"]; exists {
		t.Fatalf("legacy http_proxy key should have been removed")
	}
	proxy, ok := asConfig(cfg["proxy"])
	if !ok || proxy["http_proxy"] != "http://proxy:3128" {
		t.Fatalf("got %#v", cfg["proxy"])
	}
}
