// Package schema validates a storage configuration against curtin's
// per-entity rules: required fields, enum-constrained fields and label
// length limits. It checks the top-level version and then validates every
// item against its own type-specific schema, so an error names the
// offending item's id. Structural checks run through
// xeipuuv/gojsonschema; human-oriented, path-aware error reporting is
// accumulated with coreos/vcontext/report the way
// mantle/platform/conf.go's Ignition validation path does.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/coreos/vcontext/path"
	"github.com/coreos/vcontext/report"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/canonical/curtin/storage"
)

// ValidationError is returned when a storage config fails structural
// validation. Callers that only need a single formatted message can use
// Error(); callers that want path-aware detail can use the embedded Report.
type ValidationError struct {
	Report report.Report
}

func (e *ValidationError) Error() string {
	return e.Report.String()
}

// Validate checks cfg against the top-level shape (version == 1, config is
// a list of known entity types) and then each item against its own type's
// rules. It never mutates cfg and never runs an external command: schema
// violations must be caught before any side effect, per spec.md §7.
func Validate(cfg storage.Config) error {
	var rep report.Report

	if cfg.Version != 1 {
		rep.AddOnError(path.New("yaml", "version"),
			fmt.Errorf("unexpected value (%d) for property \"version\"", cfg.Version))
	}

	for idx, item := range cfg.Items {
		itemPath := path.New("yaml", "config", idx)
		if err := validateItem(item); err != nil {
			rep.AddOnError(itemPath, err)
		}
	}

	if rep.IsFatal() {
		return &ValidationError{Report: rep}
	}
	return nil
}

// validateItem runs the structural (gojsonschema) check for a single item
// and, only on failure, decorates the raw violation with the item's id.
// A raid item's raidlevel must be one of RaidLevelAliases' spellings.
func validateItem(item storage.Item) error {
	t := item.Type()
	if t == "" {
		return errors.Errorf("missing required property \"type\" in %v", map[string]interface{}(item))
	}
	if _, known := requiredFields[t]; !known {
		return errors.Errorf("unknown storage type: %s in %v", t, map[string]interface{}(item))
	}

	doc, err := itemSchema(t)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(map[string]interface{}(item))
	if err != nil {
		return errors.Wrap(err, "marshaling storage item for validation")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(doc),
		gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errors.Wrap(err, "running schema validation")
	}
	if result.Valid() {
		if t == storage.TypeRAID {
			if _, ok := RaidLevelAliases[fmt.Sprintf("%v", item["raidlevel"])]; !ok {
				return errors.Errorf("unsupported raidlevel %v in id=%q", item["raidlevel"], item.ID())
			}
		}
		return validateLabelLength(item)
	}

	descs := result.Errors()
	msg := fmt.Sprintf("%s in id=%q", descs[0].String(), item.ID())
	for _, d := range descs[1:] {
		msg += fmt.Sprintf("; %s", d.String())
	}
	return errors.New(msg)
}

// validateLabelLength enforces spec.md §4.4's label length bound for
// format items, using this package's copy of the table storage/mkfs uses to
// clip/reject labels.
func validateLabelLength(item storage.Item) error {
	if item.Type() != storage.TypeFormat {
		return nil
	}
	label, ok := item["label"].(string)
	if !ok || label == "" {
		return nil
	}
	fstype := item.String("fstype")
	family := fstype
	if f, ok := fstypeFamily[fstype]; ok {
		family = f
	}
	limit, ok := labelLengthLimits[family]
	if !ok {
		return nil
	}
	if len(label) > limit {
		return errors.Errorf("label %q exceeds max length %d for fstype %q", label, limit, fstype)
	}
	return nil
}

// fstypeFamily mirrors storage/mkfs's specific_to_family table; duplicated
// here (rather than imported) so that schema does not depend on
// storage/mkfs.
var fstypeFamily = map[string]string{
	"ext2": "ext", "ext3": "ext", "ext4": "ext",
	"fat12": "fat", "fat16": "fat", "fat32": "fat", "vfat": "fat", "fat": "fat",
}

// itemSchema builds the draft-07 JSON schema document for storage type t:
// the `type` field pinned to a literal, required fields listed, and any
// string-valued fields constrained to their enum.
func itemSchema(t storage.Type) (map[string]interface{}, error) {
	required := append([]string{"id", "type"}, requiredFields[t]...)

	properties := map[string]interface{}{
		"id":   map[string]interface{}{"type": "string"},
		"type": map[string]interface{}{"const": string(t)},
	}
	for field, values := range stringEnums[t] {
		properties[field] = map[string]interface{}{"enum": toAnySlice(values)}
	}

	return map[string]interface{}{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"required":   required,
		"properties": properties,
	}, nil
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// TopLevelTypes exposes the set of recognized storage types, for callers
// (e.g. the `schema_validate` external wrapper, §1 Non-goals) that need to
// enumerate them without importing storage/dag.
func TopLevelTypes() []storage.Type {
	return append([]storage.Type{}, storage.AllTypes...)
}
