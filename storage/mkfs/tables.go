package mkfs

// mkfsCommands maps an fstype to the external mkfs binary that creates it.
// Grounded on curtin/block/mkfs.py's mkfs_commands, kept as a literal table
// per DESIGN.md's open question (b): these names are load-bearing data, not
// an implementation detail to rederive.
var mkfsCommands = map[string]string{
	"btrfs":    "mkfs.btrfs",
	"ext2":     "mkfs.ext2",
	"ext3":     "mkfs.ext3",
	"ext4":     "mkfs.ext4",
	"fat":      "mkfs.vfat",
	"fat12":    "mkfs.vfat",
	"fat16":    "mkfs.vfat",
	"fat32":    "mkfs.vfat",
	"vfat":     "mkfs.vfat",
	"jfs":      "jfs_mkfs",
	"ntfs":     "mkntfs",
	"reiserfs": "mkfs.reiserfs",
	"swap":     "mkswap",
	"xfs":      "mkfs.xfs",
}

// specificToFamily collapses fstype variants that share flag handling (the
// fat* sizes, the ext* generations) onto one family name used to look up
// family_flag_mappings. Types absent here are already a family of one.
var specificToFamily = map[string]string{
	"ext2":  "ext",
	"ext3":  "ext",
	"ext4":  "ext",
	"fat12": "fat",
	"fat16": "fat",
	"fat32": "fat",
	"vfat":  "fat",
}

// labelLengthLimits bounds a volume label's length per fs family.
var labelLengthLimits = map[string]int{
	"btrfs":    256,
	"ext":      16,
	"fat":      11,
	"jfs":      16, // see jfs_tune manpage
	"ntfs":     32,
	"reiserfs": 16,
	"swap":     15, // not in manpages, found experimentally
	"xfs":      12,
}

// flagTemplate is either a bare flag ("-f") or a flag/value pair where value
// contains a "%s" placeholder filled in with the caller's parameter.
type flagTemplate struct {
	flag  string
	value string // "" for a parameterless flag
}

// familyFlagMappings is the per-family rendering of each logical flag
// (force, label, sectorsize, uuid, fatsize). Grounded on
// curtin/block/mkfs.py's family_flag_mappings.
var familyFlagMappings = map[string]map[string]flagTemplate{
	"fatsize": {
		"fat": {flag: "-F", value: "%s"},
	},
	"force": {
		"btrfs":    {flag: "--force"},
		"ext":      {flag: "-F"},
		"fat":      {flag: "-I"},
		"ntfs":     {flag: "--force"},
		"reiserfs": {flag: "-f"},
		"swap":     {flag: "--force"},
		"xfs":      {flag: "-f"},
	},
	"label": {
		"btrfs":    {flag: "--label", value: "%s"},
		"ext":      {flag: "-L", value: "%s"},
		"fat":      {flag: "-n", value: "%s"},
		"jfs":      {flag: "-L", value: "%s"},
		"ntfs":     {flag: "--label", value: "%s"},
		"reiserfs": {flag: "--label", value: "%s"},
		"swap":     {flag: "--label", value: "%s"},
		"xfs":      {flag: "-L", value: "%s"},
	},
	"sectorsize": {
		"btrfs":    {flag: "--sectorsize", value: "%s"},
		"ext":      {flag: "-b", value: "%s"},
		"fat":      {flag: "-S", value: "%s"},
		"ntfs":     {flag: "--sector-size", value: "%s"},
		"reiserfs": {flag: "--block-size", value: "%s"},
		"xfs":      {flag: "-s", value: "%s"},
	},
	"uuid": {
		"btrfs":    {flag: "--uuid", value: "%s"},
		"ext":      {flag: "-U", value: "%s"},
		"reiserfs": {flag: "--uuid", value: "%s"},
		"swap":     {flag: "--uuid", value: "%s"},
		"xfs":      {flag: "-m", value: "uuid=%s"},
	},
}

// releaseFlagMappingOverrides disables specific flags on specific releases
// where the mkfs binary shipped there rejects them. Copied verbatim from
// curtin/block/mkfs.py's release_flag_mapping_overrides; a nil entry means
// "this flag is unsupported on this family for this release", matching the
// Python `None` sentinel.
var releaseFlagMappingOverrides = map[string]map[string]map[string]*flagTemplate{
	"precise": {
		"force": {"btrfs": nil},
		"uuid":  {"btrfs": nil},
	},
	"trusty": {
		"uuid": {"btrfs": nil, "xfs": nil},
	},
}
