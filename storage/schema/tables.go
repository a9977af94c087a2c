package schema

import "github.com/canonical/curtin/storage"

// requiredFields lists the fields every instance of a storage type must
// carry, besides the universal id/type pair. Grounded on spec.md §3's
// per-type semantics.
var requiredFields = map[storage.Type][]string{
	storage.TypeDisk:           {},
	storage.TypePartition:      {"device", "number", "size"},
	storage.TypeFormat:         {"fstype", "volume"},
	storage.TypeMount:          {"path"},
	storage.TypeLVMVolGroup:    {"name", "devices"},
	storage.TypeLVMPartition:   {"name", "volgroup", "size"},
	storage.TypeDMCrypt:        {"volume", "dm_name"},
	storage.TypeRAID:           {"raidlevel", "devices"},
	storage.TypeBcache:         {"backing_device"},
	storage.TypeZpool:          {"pool", "vdevs"},
	storage.TypeZfs:            {"volume", "pool"},
	storage.TypeDasd:           {"device_id", "blocksize", "disk_layout", "mode"},
	storage.TypeNVMEController: {},
}

// stringEnums constrains string-valued fields to a fixed set. Fields that
// accept a mix of types (e.g. raid's numeric-or-aliased raidlevel) are
// checked by validateItem against RaidLevelAliases rather than forced into
// an enum here.
var stringEnums = map[storage.Type]map[string][]string{
	storage.TypeDisk: {
		"ptable": {"dos", "gpt", "msdos", "vtoc", "unsupported"},
		"wipe":   {"random", "superblock", "superblock-recursive", "zero"},
	},
	storage.TypePartition: {
		"flag": {"bios_grub", "boot", "extended", "home", "linux", "logical",
			"lvm", "mbr", "prep", "raid", "swap", ""},
		"wipe": {"random", "superblock", "superblock-recursive", "zero"},
	},
	storage.TypeBcache: {
		"cache_mode": {"writethrough", "writeback", "writearound", "none"},
	},
	storage.TypeDasd: {
		"disk_layout": {"cdl", "ldl"},
		"mode":        {"expand", "full", "quick"},
	},
}

// RaidLevelAliases maps every accepted raidlevel spelling (spec.md §3: "0,
// 1, 4, 5, 6, 10 with canonical aliases") to its canonical numeric level.
var RaidLevelAliases = map[string]int{
	"0": 0, "stripe": 0, "raid0": 0,
	"1": 1, "mirror": 1, "raid1": 1,
	"4": 4, "raid4": 4,
	"5": 5, "raid5": 5,
	"6": 6, "raid6": 6,
	"10": 10, "raid10": 10,
}

// labelLengthLimits is a copy of storage/mkfs's table, used by the schema
// validator's label-length check, per spec.md §4.4.
var labelLengthLimits = map[string]int{
	"btrfs":    256,
	"ext":      16,
	"fat":      11,
	"jfs":      16,
	"ntfs":     32,
	"reiserfs": 16,
	"swap":     15,
	"xfs":      12,
}
