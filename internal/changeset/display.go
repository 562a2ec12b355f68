package changeset

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FieldLabel returns the display label for a tracked field.
//
// Registered descriptors win; otherwise the field name is prettified the
// classic way: underscores become spaces and the first letter is upper-cased
// ("pub_date" → "Pub date").
func (c ModelConfig) FieldLabel(field string) string {
	if d := c.descriptor(field); d.Label != "" {
		return d.Label
	}
	return prettify(field)
}

// DisplayValue maps a persisted value through the field's choices, falling
// back to the raw value. NULL renders as the empty string.
func (c ModelConfig) DisplayValue(field string, value *string) string {
	if value == nil {
		return ""
	}
	d := c.descriptor(field)
	if d.Choices != nil {
		if display, ok := d.Choices[*value]; ok {
			return display
		}
	}
	return *value
}

// Decorate fills the display fields of a changeset's records using the
// registered model configuration. Unregistered object types fall back to
// prettified field names.
func (r *Registry) Decorate(cs *ChangeSet) {
	cfg, _ := r.Lookup(cs.ObjectType)

	for _, record := range cs.Records {
		record.Label = cfg.FieldLabel(record.FieldName)
		record.OldValueDisplay = cfg.DisplayValue(record.FieldName, record.OldValue)
		record.NewValueDisplay = cfg.DisplayValue(record.FieldName, record.NewValue)
	}
}

// prettify converts a snake_case field name into a sentence-style label.
func prettify(field string) string {
	label := strings.ReplaceAll(field, "_", " ")
	first, size := utf8.DecodeRuneInString(label)
	if first == utf8.RuneError {
		return label
	}
	return string(unicode.ToUpper(first)) + label[size:]
}
