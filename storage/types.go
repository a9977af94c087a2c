// Package storage defines curtin's storage action data model: a tagged,
// `id`-keyed record type covering disks, partitions, RAID, LVM, bcache,
// dm-crypt, ZFS pools/datasets, filesystems, mounts and DASD, plus the
// top-level versioned config list that carries them. Grounded on spec.md §3
// and the type registry in curtin/storage_config.py's STORAGE_CONFIG_TYPES.
package storage

// Type is one of the fixed storage action kinds from spec.md §3.
type Type string

const (
	TypeDisk           Type = "disk"
	TypePartition      Type = "partition"
	TypeFormat         Type = "format"
	TypeMount          Type = "mount"
	TypeLVMVolGroup    Type = "lvm_volgroup"
	TypeLVMPartition   Type = "lvm_partition"
	TypeDMCrypt        Type = "dm_crypt"
	TypeRAID           Type = "raid"
	TypeBcache         Type = "bcache"
	TypeZpool          Type = "zpool"
	TypeZfs            Type = "zfs"
	TypeDasd           Type = "dasd"
	TypeNVMEController Type = "nvme_controller"
)

// AllTypes enumerates every recognized storage action type, in the same
// order curtin/storage_config.py's STORAGE_CONFIG_TYPES iterates (sorted by
// name) so schema registration is deterministic.
var AllTypes = []Type{
	TypeBcache,
	TypeDasd,
	TypeDisk,
	TypeDMCrypt,
	TypeFormat,
	TypeLVMPartition,
	TypeLVMVolGroup,
	TypeMount,
	TypeNVMEController,
	TypeRAID,
	TypeZfs,
	TypeZpool,
}

// Item is one entry in a storage config list: a tagged record keyed by a
// unique `id` string. It is kept as a loosely-typed map (like the Python
// original's per-item dict) because the schema validator, the dependency
// walker and the executor all need to inspect arbitrary fields generically;
// the field accessors below (String, Int, Bool, StringList, ...) give call
// sites typed reads of single fields without forcing an upfront sum-type
// encoding of every optional field.
type Item map[string]interface{}

// ID returns the item's `id` field, or "" if absent/not a string.
func (i Item) ID() string {
	s, _ := i["id"].(string)
	return s
}

// Type returns the item's `type` field, or "" if absent/not a string.
func (i Item) Type() Type {
	s, _ := i["type"].(string)
	return Type(s)
}

// Bool reads a boolean-valued field, defaulting to false when absent.
func (i Item) Bool(key string) bool {
	b, _ := i[key].(bool)
	return b
}

// String reads a string-valued field, defaulting to "" when absent.
func (i Item) String(key string) string {
	s, _ := i[key].(string)
	return s
}

// StringList reads a field that may be a single string or a list of
// strings, normalizing it to a slice. This matches the config.py handling
// of fields like `devices` that accept either form.
func (i Item) StringList(key string) []string {
	v, ok := i[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case string:
		return []string{vv}
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int reads an integer-valued field, defaulting to 0 when absent or of an
// unexpected numeric type (YAML/JSON decode int fields as int, int64 or
// float64 depending on source).
func (i Item) Int(key string) int {
	switch v := i[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Map reads a mapping-valued field (e.g. properties, pool_properties).
func (i Item) Map(key string) map[string]interface{} {
	m, _ := i[key].(map[string]interface{})
	return m
}

// Config is the top-level versioned storage configuration: spec.md §6's
// `storage: {version: 1, config: [...]}`.
type Config struct {
	Version int    `yaml:"version"`
	Items   []Item `yaml:"config"`
}

// FromInterface builds a Config from a generically-decoded YAML value (as
// produced by the config loader), validating only that the shape is sane;
// schema validation proper lives in storage/schema.
func FromInterface(raw map[string]interface{}) (Config, error) {
	cfg := Config{}
	if v, ok := raw["version"]; ok {
		switch vv := v.(type) {
		case int:
			cfg.Version = vv
		case float64:
			cfg.Version = int(vv)
		}
	}
	rawItems, _ := raw["config"].([]interface{})
	for _, ri := range rawItems {
		m, ok := ri.(map[string]interface{})
		if !ok {
			continue
		}
		cfg.Items = append(cfg.Items, Item(m))
	}
	return cfg, nil
}
