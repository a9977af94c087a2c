// Package udev wraps udevadm and builds the by-dname rule files curtin
// writes for storage items that carry a `name`. Grounded on
// curtin/udev.py's udevadm_info (KEY='value' export parsing via shlex) as
// exercised by tests/unittests/test_udev.py, and on spec.md §4.10/§6/§4.7
// for the settle-before-unmount and rule-emission semantics.
package udev

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/canonical/curtin/system/exec"
)

// Settle runs `udevadm settle`, used before unmounting /dev (install's
// working-directory teardown) and after any action that adds or removes block devices (§4.7 step 6,
// §7 shared-resource note (c)).
func Settle() error {
	_, err := exec.Run([]string{"udevadm", "settle"}, exec.Options{})
	return err
}

// Info queries udevadm for a device's exported properties (DEVNAME,
// ID_PART_TABLE_UUID, ID_PART_ENTRY_UUID, MD_UUID, DM_NAME, ...), parsing
// the KEY='value' export format udevadm emits, matching udevadm_info.
func Info(devpath string) (map[string]string, error) {
	if devpath == "" {
		return nil, errors.New("udev.Info: empty device path")
	}
	res, err := exec.Run(
		[]string{"udevadm", "info", "--query=property", "--export", devpath},
		exec.Options{Capture: true})
	if err != nil {
		return nil, err
	}
	return parseExport(res.Stdout), nil
}

// parseExport parses udevadm --export's KEY='value' lines. A line whose
// value doesn't survive a clean shlex round-trip (rare, but seen with
// vendor strings carrying embedded quotes) falls back to a raw strip of the
// surrounding quotes instead of failing the whole parse.
func parseExport(out string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := line[:eq]
		rawValue := line[eq+1:]

		fields, err := shellquote.Split(rawValue)
		if err != nil || len(fields) == 0 {
			info[key] = strings.Trim(rawValue, "'")
			continue
		}
		if len(fields) == 1 {
			info[key] = fields[0]
		} else {
			info[key] = strings.Join(fields, " ")
		}
	}
	return info
}

// StableKeyFor returns the udev property that identifies item of the given
// storage type for a by-dname rule match, per spec.md §4.10/§6: disks match
// on ID_PART_TABLE_UUID, partitions on ID_PART_ENTRY_UUID, raid on MD_UUID,
// lvm logical volumes on DM_NAME.
func StableKeyFor(itemType string) (string, error) {
	switch itemType {
	case "disk":
		return "ID_PART_TABLE_UUID", nil
	case "partition":
		return "ID_PART_ENTRY_UUID", nil
	case "raid":
		return "MD_UUID", nil
	case "lvm_partition":
		return "DM_NAME", nil
	default:
		return "", errors.Errorf("no stable udev key defined for storage type %q", itemType)
	}
}

// SanitizeDname maps a user-supplied dname to the sanitized suffix used
// under /dev/disk/by-dname/: any character that isn't alphanumeric,
// '-', '_' or '.' becomes '-'. Two input names differing only in forbidden
// characters collapse to the same sanitized name, per spec.md §9 edge case
// (10).
func SanitizeDname(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Rule renders a udev rules.d line matching keyValue on matchKey and
// symlinking it to /dev/disk/by-dname/<sanitized name>.
func Rule(matchKey, keyValue, name string) string {
	return fmt.Sprintf(
		`SUBSYSTEM=="block", ENV{%s}=="%s", SYMLINK+="disk/by-dname/%s"`,
		matchKey, keyValue, SanitizeDname(name))
}

// RuleFile names the rules.d file curtin writes for dname rules, grouped
// under one priority so ordering among them is deterministic.
const RuleFile = "/etc/udev/rules.d/60-curtin-dname.rules"

// RenderRules builds the full rules.d file body for a set of (matchKey,
// keyValue, name) triples, sorted by name so regenerating the file from the
// same storage config is byte-for-byte stable.
func RenderRules(entries []DnameEntry) string {
	sorted := append([]DnameEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString("# Autogenerated by curtin, do not edit\n")
	for _, e := range sorted {
		b.WriteString(Rule(e.MatchKey, e.KeyValue, e.Name))
		b.WriteString("\n")
	}
	return b.String()
}

// DnameEntry is one storage item's stable-identifier-to-dname binding.
type DnameEntry struct {
	MatchKey string
	KeyValue string
	Name     string
}
