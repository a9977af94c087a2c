// Package config implements curtin's configuration loader: YAML documents,
// either standalone or nested inside a multi-part archive, dotted-key CLI
// overrides, and a deep, non-associative merge. Grounded on
// curtin/config.py (merge_config, cmdarg2cfg, load_config_archive,
// dump_config).
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ArchiveHeader is the sentinel marking the first line of a multi-part
	// config archive.
	ArchiveHeader = "#curtin-config-archive"
	// ConfigHeader is the sentinel marking the first line of a plain
	// config fragment embedded in an archive.
	ConfigHeader = "#curtin-config"

	archiveType = "text/curtin-config-archive"
	configType  = "text/curtin-config"
)

// Config is curtin's in-memory config tree: a string-keyed map whose values
// may themselves be maps, slices, or scalars.
type Config map[string]interface{}

// LoadConfig reads path and parses it as either a plain YAML document or,
// if its content begins with ArchiveHeader, a multi-part archive.
func LoadConfig(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	return parseConfigContent(string(content))
}

func parseConfigContent(content string) (Config, error) {
	if !strings.HasPrefix(content, ArchiveHeader) {
		var cfg Config
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, errors.Wrap(err, "parsing config")
		}
		if cfg == nil {
			cfg = Config{}
		}
		return cfg, nil
	}
	return loadConfigArchive(content)
}

// archivePart mirrors the two shapes a yaml multi-part archive entry may
// take: a bare string, or a {type, content} mapping.
type archivePart struct {
	isString bool
	str      string
	typ      string
	content  string
	isDict   bool
}

func loadConfigArchive(content string) (Config, error) {
	var raw []interface{}
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, errors.Wrap(err, "parsing config archive")
	}

	cfg := Config{}
	for _, item := range raw {
		part, ok := toArchivePart(item)
		if !ok {
			continue
		}
		if part.isString {
			switch {
			case strings.HasPrefix(part.str, ArchiveHeader):
				nested, err := loadConfigArchive(part.str)
				if err != nil {
					return nil, err
				}
				MergeConfig(cfg, nested)
			case strings.HasPrefix(part.str, ConfigHeader):
				if err := MergeConfigStr(cfg, part.str); err != nil {
					return nil, err
				}
			}
			continue
		}

		if !part.isDict || part.content == "" {
			continue
		}
		switch {
		case part.typ == archiveType || strings.HasPrefix(part.content, ArchiveHeader):
			nested, err := loadConfigArchive(part.content)
			if err != nil {
				return nil, err
			}
			MergeConfig(cfg, nested)
		case part.typ == configType || strings.HasPrefix(part.content, ConfigHeader):
			if err := MergeConfigStr(cfg, part.content); err != nil {
				return nil, err
			}
		}
	}
	return cfg, nil
}

func toArchivePart(item interface{}) (archivePart, bool) {
	switch v := item.(type) {
	case string:
		return archivePart{isString: true, str: v}, true
	case map[string]interface{}:
		content, _ := v["content"].(string)
		typ, _ := v["type"].(string)
		return archivePart{isDict: true, content: content, typ: typ}, true
	default:
		return archivePart{}, false
	}
}

// MergeConfigStr parses s as a plain YAML document and merges it into cfg.
func MergeConfigStr(cfg Config, s string) error {
	var cfg2 Config
	if err := yaml.Unmarshal([]byte(s), &cfg2); err != nil {
		return errors.Wrap(err, "parsing embedded config fragment")
	}
	MergeConfig(cfg, cfg2)
	return nil
}

// MergeConfig deep-merges cfg2 into cfg: for a key whose value is a mapping
// in both, it recurses; otherwise cfg2's value wins. Note this is
// deliberately non-associative: MergeConfig is a destructive, order-dependent
// operation on cfg, not a pure function.
func MergeConfig(cfg, cfg2 Config) {
	for k, v := range cfg2 {
		if vm, ok := asConfig(v); ok {
			if cm, ok := asConfig(cfg[k]); ok {
				MergeConfig(cm, vm)
				continue
			}
		}
		cfg[k] = v
	}
}

func asConfig(v interface{}) (Config, bool) {
	switch m := v.(type) {
	case Config:
		return m, true
	case map[string]interface{}:
		return Config(m), true
	default:
		return nil, false
	}
}

// CmdArg2Cfg parses a dotted-key override like "a/b/c=val" into a nested
// config fragment {a:{b:{c:"val"}}}. A key prefixed with "json:" JSON-decodes
// the value. An empty final path segment (e.g. "json:=[1,2]") means the
// decoded value replaces the whole config, and is returned as-is rather than
// nested under any key.
func CmdArg2Cfg(cmdarg, delim string) (interface{}, error) {
	if !strings.Contains(cmdarg, "=") {
		return nil, errors.Errorf("no %q in %q", "=", cmdarg)
	}
	if delim == "" {
		delim = "/"
	}

	parts := strings.SplitN(cmdarg, "=", 2)
	key, val := parts[0], parts[1]

	isJSON := false
	if strings.HasPrefix(key, "json:") {
		isJSON = true
		key = key[len("json:"):]
	}

	items := strings.Split(key, delim)

	var decoded interface{} = val
	if isJSON {
		var v interface{}
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			return nil, errors.Errorf("setting of key %q had invalid json: %s", key, val)
		}
		decoded = v
	}

	if items[len(items)-1] == "" {
		return decoded, nil
	}

	root := Config{}
	cur := root
	for _, item := range items[:len(items)-1] {
		next := Config{}
		cur[item] = next
		cur = next
	}
	cur[items[len(items)-1]] = decoded
	return root, nil
}

// MergeCmdArg parses cmdarg and merges it into cfg. It is an error for the
// parsed fragment to not resolve to a mapping (the whole-config-replace form
// of CmdArg2Cfg has no well-defined merge).
func MergeCmdArg(cfg Config, cmdarg, delim string) error {
	v, err := CmdArg2Cfg(cmdarg, delim)
	if err != nil {
		return err
	}
	m, ok := asConfig(v)
	if !ok {
		return errors.Errorf("cmdarg %q does not resolve to a mapping and cannot be merged", cmdarg)
	}
	MergeConfig(cfg, m)
	return nil
}

// DumpConfig renders cfg as stable, block-style YAML with two-space
// indentation, matching curtin/config.py's dump_config.
func DumpConfig(cfg interface{}) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return "", errors.Wrap(err, "dumping config")
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ValueAsBoolean mirrors curtin/config.py's value_as_boolean: a small set
// of string/zero spellings are treated as false, everything else as true.
func ValueAsBoolean(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case int:
		return v != 0
	case string:
		switch v {
		case "0", "False", "false", "None", "none", "":
			return false
		default:
			return true
		}
	default:
		return true
	}
}

// NormalizeProxy migrates a legacy top-level http_proxy key into the
// proxy.http_proxy location, per spec.md §6.
func NormalizeProxy(cfg Config) {
	legacy, ok := cfg["http_proxy"]
	if !ok {
		return
	}
	proxy, ok := asConfig(cfg["proxy"])
	if !ok {
		proxy = Config{}
		cfg["proxy"] = proxy
	}
	if _, exists := proxy["http_proxy"]; !exists {
		proxy["http_proxy"] = legacy
	}
	delete(cfg, "http_proxy")
}
