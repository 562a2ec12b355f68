package changeset

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mkoidl/chronicle/internal/platform/constants"
)

// Snapshot captures the tracked field values of one object at a point in
// time. Keys are field names; values are plain Go values. Relation fields
// hold the related object's key; many-relations hold a pre-serialized
// summary (string or JSON-marshalable value).
type Snapshot map[string]any

// FieldChange is one field whose value differs between two snapshots.
type FieldChange struct {
	Field string
	Old   *string
	New   *string
}

// Diff compares two snapshots over the model's tracked fields.
//
// Fields are visited in TrackFields order, so the resulting changesets are
// deterministic. A nil `old` treats every tracked field as freshly set,
// which is exactly the shape of an initial (insert) revision.
func (c ModelConfig) Diff(old, new Snapshot) []FieldChange {
	var changes []FieldChange

	for _, field := range c.TrackFields {
		var oldValue *string
		if old != nil {
			oldValue = EncodeValue(old[field])
		}
		newValue := EncodeValue(new[field])

		if old == nil || !equalValue(oldValue, newValue) {
			changes = append(changes, FieldChange{Field: field, Old: oldValue, New: newValue})
		}
	}

	return changes
}

// EncodeValue renders a snapshot value into its persisted text form.
//
// nil (and nil typed pointers) become NULL. Times are stored as RFC 3339
// UTC. Compound values fall back to JSON. Oversized values are truncated to
// [constants.MaxTrackedValueLen] runes.
func EncodeValue(value any) *string {
	if value == nil {
		return nil
	}

	var text string

	switch v := value.(type) {
	case string:
		text = v
	case *string:
		if v == nil {
			return nil
		}
		text = *v
	case bool:
		text = strconv.FormatBool(v)
	case int:
		text = strconv.Itoa(v)
	case int32:
		text = strconv.FormatInt(int64(v), 10)
	case int64:
		text = strconv.FormatInt(v, 10)
	case float64:
		text = strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		text = v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return nil
		}
		text = v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		text = v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(encoded)
		}
	}

	text = truncate(text, constants.MaxTrackedValueLen)
	return &text
}

// truncate shortens a string to max runes, appending an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// equalValue compares two nullable persisted values.
func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
