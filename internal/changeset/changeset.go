/*
Package changeset implements field-level change tracking for application models.

Every logical edit event on a tracked object is recorded as a ChangeSet — who
changed it, when, and how (insert, update, delete, soft-delete, restore) —
together with one ChangeRecord per changed field holding the old and new value.

# Architecture

  - Model registration: domains register a [ModelConfig] describing which
    fields are tracked, how the object is keyed, and whether rapid successive
    edits by the same user are aggregated into one changeset.
  - Snapshots: domain services capture a [Snapshot] of the tracked fields
    before and after a save and hand both to the [Tracker].
  - The Tracker diffs the snapshots and persists changesets through the
    [Repository], optionally consulting a Redis-backed [RecentIndex] to
    decide whether a fresh edit should be folded into the previous changeset.

The acting user is resolved from the request context; anonymous work is
recorded with a NULL actor. Recording can be suppressed per call chain via
ctxutil.WithTrackingDisabled.
*/
package changeset

import (
	"fmt"
	"time"
)

// # Change Types

// ChangeType is the single-character code classifying a changeset.
type ChangeType string

const (
	// TypeInsert marks the first changeset recorded for an object.
	TypeInsert ChangeType = "I"
	// TypeUpdate marks a regular field-level edit.
	TypeUpdate ChangeType = "U"
	// TypeDelete marks a hard delete; records carry the final values.
	TypeDelete ChangeType = "D"
	// TypeSoftDelete marks the trash flag flipping on.
	TypeSoftDelete ChangeType = "S"
	// TypeRestore marks the trash flag flipping off.
	TypeRestore ChangeType = "R"
)

// changeTypeLabels maps codes to their display labels.
var changeTypeLabels = map[ChangeType]string{
	TypeInsert:     "Insert",
	TypeUpdate:     "Update",
	TypeDelete:     "Delete",
	TypeSoftDelete: "Soft Delete",
	TypeRestore:    "Restore",
}

// Label returns the human-readable name of the change type.
func (t ChangeType) Label() string {
	if label, ok := changeTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// Valid reports whether t is one of the known change type codes.
func (t ChangeType) Valid() bool {
	_, ok := changeTypeLabels[t]
	return ok
}

// # Domain Entities

// ObjectRef identifies a single tracked object by content type and key.
type ObjectRef struct {
	// ObjectType is the dotted content-type identifier, e.g. "polls.poll".
	ObjectType string `json:"object_type"`
	// ObjectID is the stringified value of the object's track-by field.
	ObjectID string `json:"object_id"`
}

// ChangeSet is one recorded edit event on a tracked object.
type ChangeSet struct {
	ID         string     `json:"id"`
	ChangeType ChangeType `json:"change_type"`
	Date       time.Time  `json:"date"`
	// UserID is the acting user, nil for anonymous or system edits.
	UserID     *string `json:"user_id"`
	ObjectType string  `json:"object_type"`
	ObjectID   string  `json:"object_id"`

	// Records holds the per-field changes. Populated on detail reads.
	Records []*ChangeRecord `json:"records,omitempty"`
}

// Ref returns the object reference this changeset belongs to.
func (cs *ChangeSet) Ref() ObjectRef {
	return ObjectRef{ObjectType: cs.ObjectType, ObjectID: cs.ObjectID}
}

// String renders the changeset for logs and admin displays.
func (cs *ChangeSet) String() string {
	actor := "anonymous"
	if cs.UserID != nil {
		actor = *cs.UserID
	}
	return fmt.Sprintf("%s on %s %s at %s by %s",
		cs.ChangeType.Label(), cs.ObjectType, cs.ObjectID,
		cs.Date.UTC().Format(time.RFC3339), actor)
}

// ChangeRecord is one changed field within a changeset.
type ChangeRecord struct {
	ID          string  `json:"id"`
	ChangeSetID string  `json:"change_set_id"`
	FieldName   string  `json:"field_name"`
	OldValue    *string `json:"old_value"`
	NewValue    *string `json:"new_value"`
	// IsRelated marks a change that happened on a related child entity and
	// was propagated into this object's history.
	IsRelated bool `json:"is_related"`

	// Display decoration, populated by [Registry.Decorate]. Not persisted.
	Label           string `json:"label,omitempty"`
	OldValueDisplay string `json:"old_value_display,omitempty"`
	NewValueDisplay string `json:"new_value_display,omitempty"`
}

// String renders the record as "<label>: '<from>' to '<to>'".
func (r *ChangeRecord) String() string {
	label := r.Label
	if label == "" {
		label = r.FieldName
	}
	return fmt.Sprintf("%s: '%s' to '%s'", label, displayOrEmpty(r.OldValue), displayOrEmpty(r.NewValue))
}

func displayOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// # Queries

// Filter holds the parameters for a paginated changeset search.
type Filter struct {
	ObjectType string
	ObjectID   string
	UserID     string
	Types      []ChangeType
}

// Provenance is the derived authorship summary of one tracked object.
//
// CreatedBy/CreatedAt come from the object's insert changeset;
// LastModifiedBy/LastModifiedAt from its most recent changeset of any type.
type Provenance struct {
	CreatedBy      *string    `json:"created_by"`
	CreatedAt      *time.Time `json:"created_at"`
	LastModifiedBy *string    `json:"last_modified_by"`
	LastModifiedAt *time.Time `json:"last_modified_at"`
}

// # Field Identifiers

// Global field names for validation in the changeset domain.
const (
	FieldObjectType = "object_type"
	FieldObjectID   = "object_id"
	FieldUserID     = "user_id"
	FieldType       = "type"
)
