package changeset

import (
	"context"
	"time"
)

// Repository defines the data access contract for the change log.
type Repository interface {
	// CreateChangeSet persists a new changeset row.
	CreateChangeSet(context context.Context, cs *ChangeSet) error

	// CreateChangeRecords bulk-inserts the records of one changeset.
	CreateChangeRecords(context context.Context, records []*ChangeRecord) error

	// GetChangeSet returns a changeset with its records hydrated.
	GetChangeSet(context context.Context, id string) (*ChangeSet, error)

	// ListChangeSets returns a filtered, latest-first page of changesets
	// together with the total match count. Records are not hydrated.
	ListChangeSets(context context.Context, f Filter, limit, offset int) ([]*ChangeSet, int, error)

	// ListObjectHistory returns a latest-first page of one object's
	// changesets with records hydrated, plus the total count.
	ListObjectHistory(context context.Context, ref ObjectRef, limit, offset int) ([]*ChangeSet, int, error)

	// CountChangeSets counts all changesets recorded for an object.
	CountChangeSets(context context.Context, ref ObjectRef) (int, error)

	// LatestChangeSet returns the newest changeset for an object whose type
	// is not in excludeTypes, or nil when none exists.
	LatestChangeSet(context context.Context, ref ObjectRef, excludeTypes []ChangeType) (*ChangeSet, error)

	// FirstChangeSet returns the oldest changeset of the given type for an
	// object, or nil when none exists.
	FirstChangeSet(context context.Context, ref ObjectRef, ofType ChangeType) (*ChangeSet, error)

	// GetOrCreateChangeRecord finds the non-related record for the field in
	// the changeset, or inserts one with the provided values. The boolean
	// reports whether a new row was created.
	GetOrCreateChangeRecord(context context.Context, changeSetID, fieldName string, oldValue, newValue *string) (*ChangeRecord, bool, error)

	// UpdateChangeRecordNewValue overwrites the new value of one record.
	UpdateChangeRecordNewValue(context context.Context, id string, newValue *string) error

	// DeleteChangeRecord removes one record.
	DeleteChangeRecord(context context.Context, id string) error

	// CountChangeRecords counts the records of one changeset.
	CountChangeRecords(context context.Context, changeSetID string) (int, error)

	// TouchChangeSet moves a changeset's date forward (aggregation re-use).
	TouchChangeSet(context context.Context, id string, date time.Time) error

	// DeleteChangeSet removes a changeset and its records.
	DeleteChangeSet(context context.Context, id string) error
}

// # Recent-Changeset Index

// RecentEntry is the cached summary of the newest aggregatable changeset of
// one object. It carries exactly what the aggregation decision needs.
type RecentEntry struct {
	ChangeSetID string    `json:"change_set_id"`
	UserID      *string   `json:"user_id"`
	Date        time.Time `json:"date"`
}

// RecentIndex caches the newest aggregatable changeset per object so the
// per-save aggregation lookup does not hit the primary database.
//
// Implementations must treat a miss as (nil, nil). The index is advisory:
// the [Tracker] falls back to the repository on miss or error.
type RecentIndex interface {
	Get(context context.Context, ref ObjectRef) (*RecentEntry, error)
	Set(context context.Context, ref ObjectRef, entry RecentEntry, ttl time.Duration) error
	Invalidate(context context.Context, ref ObjectRef) error
}
