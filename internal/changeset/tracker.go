package changeset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/pkg/pointer"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// Tracker is the change-tracking engine. Domain services hand it snapshots
// around every mutation and it turns the differences into persisted
// changesets, honoring the per-model configuration and the context switches
// in [ctxutil].
//
// A Tracker is safe for concurrent use.
type Tracker struct {
	registry *Registry
	store    Repository
	recent   RecentIndex
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker wires a tracking engine. The recent index may be nil, in which
// case every aggregation lookup goes to the repository.
func NewTracker(registry *Registry, store Repository, recent RecentIndex, logger *slog.Logger) *Tracker {
	return &Tracker{
		registry: registry,
		store:    store,
		recent:   recent,
		logger:   logger,
		now:      time.Now,
	}
}

// Registry exposes the model catalogue backing this tracker.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// RecordInsert records the initial revision of a freshly created object.
//
// When the object already has changesets (e.g. data imported with tracking
// off, then saved again), the initial revision is skipped so history does not
// start twice.
func (t *Tracker) RecordInsert(ctx context.Context, objectType, objectID string, snap Snapshot) error {
	if !ctxutil.IsTrackingEnabled(ctx) {
		return nil
	}

	cfg, ok := t.registry.Lookup(objectType)
	if !ok {
		return fmt.Errorf("changeset: object type %q is not registered", objectType)
	}

	ref := ObjectRef{ObjectType: objectType, ObjectID: objectID}
	existing, err := t.store.CountChangeSets(ctx, ref)
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	changes := cfg.Diff(nil, snap)
	return t.persist(ctx, ref, TypeInsert, changes)
}

// RecordUpdate diffs two snapshots of a tracked object and records the
// result.
//
// A soft-delete field transition overrides the change type (false→true
// records a soft delete, true→false a restore). Plain updates are subject to
// aggregation: when the newest changeset of the object belongs to the same
// user and is younger than the model's aggregation window, the new changes
// are folded into it instead of opening a fresh changeset.
func (t *Tracker) RecordUpdate(ctx context.Context, objectType, objectID string, old, new Snapshot) error {
	if !ctxutil.IsTrackingEnabled(ctx) {
		return nil
	}

	cfg, ok := t.registry.Lookup(objectType)
	if !ok {
		return fmt.Errorf("changeset: object type %q is not registered", objectType)
	}

	changes := cfg.Diff(old, new)
	if len(changes) == 0 {
		return nil
	}

	ref := ObjectRef{ObjectType: objectType, ObjectID: objectID}
	changeType := TypeUpdate

	switch cfg.softDeleteTransition(old, new) {
	case transitionTrashed:
		changeType = TypeSoftDelete
	case transitionRestored:
		changeType = TypeRestore
	}

	if changeType == TypeUpdate && cfg.AggregateWithin > 0 {
		merged, err := t.aggregate(ctx, cfg, ref, changes)
		if err != nil {
			return err
		}
		if merged {
			return nil
		}
	}

	return t.persist(ctx, ref, changeType, changes)
}

// RecordDelete records the hard deletion of a tracked object. The final
// snapshot becomes the old values of the changeset; new values are NULL.
func (t *Tracker) RecordDelete(ctx context.Context, objectType, objectID string, last Snapshot) error {
	if !ctxutil.IsTrackingEnabled(ctx) {
		return nil
	}

	cfg, ok := t.registry.Lookup(objectType)
	if !ok {
		return fmt.Errorf("changeset: object type %q is not registered", objectType)
	}

	ref := ObjectRef{ObjectType: objectType, ObjectID: objectID}

	changes := make([]FieldChange, 0, len(cfg.TrackFields))
	for _, field := range cfg.TrackFields {
		changes = append(changes, FieldChange{Field: field, Old: EncodeValue(last[field])})
	}

	if err := t.persist(ctx, ref, TypeDelete, changes); err != nil {
		return err
	}
	t.invalidateRecent(ctx, ref)
	return nil
}

// RecordRelatedChange records on the parent that one of its children was
// created, modified or removed.
//
// The changeset carries a single related record whose field name is the
// relation and whose new value is the child's key. Parents without any
// history get an insert-typed changeset, so a later save of the parent does
// not produce a second initial revision.
func (t *Tracker) RecordRelatedChange(ctx context.Context, parentType, parentID, relationName, childID string) error {
	if !ctxutil.IsTrackingEnabled(ctx) || !ctxutil.IsRelatedTrackingEnabled(ctx) {
		return nil
	}

	cfg, ok := t.registry.Lookup(parentType)
	if !ok {
		return fmt.Errorf("changeset: object type %q is not registered", parentType)
	}
	if !cfg.tracksRelation(relationName) {
		return fmt.Errorf("changeset: model %q does not track relation %q", parentType, relationName)
	}

	ref := ObjectRef{ObjectType: parentType, ObjectID: parentID}
	existing, err := t.store.CountChangeSets(ctx, ref)
	if err != nil {
		return err
	}

	changeType := TypeUpdate
	if existing == 0 {
		changeType = TypeInsert
	}

	cs := &ChangeSet{
		ID:         uuidv7.New(),
		ChangeType: changeType,
		Date:       t.now().UTC(),
		UserID:     actorID(ctx),
		ObjectType: ref.ObjectType,
		ObjectID:   ref.ObjectID,
	}
	cs.Records = []*ChangeRecord{{
		ID:          uuidv7.New(),
		ChangeSetID: cs.ID,
		FieldName:   relationName,
		NewValue:    pointer.To(childID),
		IsRelated:   true,
	}}

	if err := t.store.CreateChangeSet(ctx, cs); err != nil {
		return err
	}
	if err := t.store.CreateChangeRecords(ctx, cs.Records); err != nil {
		return err
	}

	// Related changesets never aggregate, so they must not shadow the
	// newest aggregatable one.
	t.invalidateRecent(ctx, ref)
	return nil
}

// # Aggregation

// aggregate folds the changes into the newest changeset of the object when
// the aggregation conditions hold. It reports whether the fold happened.
func (t *Tracker) aggregate(ctx context.Context, cfg ModelConfig, ref ObjectRef, changes []FieldChange) (bool, error) {
	latest, err := t.latestAggregatable(ctx, ref)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}

	now := t.now().UTC()
	if !sameActor(latest.UserID, actorID(ctx)) {
		return false, nil
	}
	if now.Sub(latest.Date) > cfg.AggregateWithin {
		return false, nil
	}

	for _, change := range changes {
		record, created, err := t.store.GetOrCreateChangeRecord(ctx, latest.ChangeSetID, change.Field, change.Old, change.New)
		if err != nil {
			return false, err
		}
		if created {
			continue
		}

		// The existing record keeps its original old value; only the
		// destination moves. A round trip back to the original value
		// is no change at all, so the record is dropped.
		if equalValue(record.OldValue, change.New) {
			if err := t.store.DeleteChangeRecord(ctx, record.ID); err != nil {
				return false, err
			}
			continue
		}
		if err := t.store.UpdateChangeRecordNewValue(ctx, record.ID, change.New); err != nil {
			return false, err
		}
	}

	remaining, err := t.store.CountChangeRecords(ctx, latest.ChangeSetID)
	if err != nil {
		return false, err
	}
	if remaining == 0 {
		if err := t.store.DeleteChangeSet(ctx, latest.ChangeSetID); err != nil {
			return false, err
		}
		t.invalidateRecent(ctx, ref)
		return true, nil
	}

	if err := t.store.TouchChangeSet(ctx, latest.ChangeSetID, now); err != nil {
		return false, err
	}
	t.setRecent(ctx, cfg, ref, RecentEntry{ChangeSetID: latest.ChangeSetID, UserID: latest.UserID, Date: now})
	return true, nil
}

// latestAggregatable resolves the newest update-or-insert changeset of the
// object, preferring the recent index over the repository.
func (t *Tracker) latestAggregatable(ctx context.Context, ref ObjectRef) (*RecentEntry, error) {
	if t.recent != nil {
		entry, err := t.recent.Get(ctx, ref)
		if err != nil {
			t.logger.Warn("recent index lookup failed, falling back to store",
				slog.String("object_type", ref.ObjectType),
				slog.String("object_id", ref.ObjectID),
				slog.Any("error", err))
		} else if entry != nil {
			return entry, nil
		}
	}

	latest, err := t.store.LatestChangeSet(ctx, ref, []ChangeType{TypeSoftDelete, TypeRestore, TypeDelete})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}
	return &RecentEntry{ChangeSetID: latest.ID, UserID: latest.UserID, Date: latest.Date}, nil
}

// # Persistence

// persist writes one changeset with its records and refreshes the recent
// index for aggregatable change types.
func (t *Tracker) persist(ctx context.Context, ref ObjectRef, changeType ChangeType, changes []FieldChange) error {
	if len(changes) == 0 {
		return nil
	}

	cs := &ChangeSet{
		ID:         uuidv7.New(),
		ChangeType: changeType,
		Date:       t.now().UTC(),
		UserID:     actorID(ctx),
		ObjectType: ref.ObjectType,
		ObjectID:   ref.ObjectID,
	}
	cs.Records = make([]*ChangeRecord, 0, len(changes))
	for _, change := range changes {
		cs.Records = append(cs.Records, &ChangeRecord{
			ID:          uuidv7.New(),
			ChangeSetID: cs.ID,
			FieldName:   change.Field,
			OldValue:    change.Old,
			NewValue:    change.New,
		})
	}

	if err := t.store.CreateChangeSet(ctx, cs); err != nil {
		return err
	}
	if err := t.store.CreateChangeRecords(ctx, cs.Records); err != nil {
		return err
	}

	switch changeType {
	case TypeInsert, TypeUpdate:
		if cfg, ok := t.registry.Lookup(ref.ObjectType); ok && cfg.AggregateWithin > 0 {
			t.setRecent(ctx, cfg, ref, RecentEntry{ChangeSetID: cs.ID, UserID: cs.UserID, Date: cs.Date})
		}
	default:
		t.invalidateRecent(ctx, ref)
	}
	return nil
}

// setRecent refreshes the recent index, logging failures instead of
// propagating them: a stale index only costs one repository lookup.
func (t *Tracker) setRecent(ctx context.Context, cfg ModelConfig, ref ObjectRef, entry RecentEntry) {
	if t.recent == nil {
		return
	}
	if err := t.recent.Set(ctx, ref, entry, cfg.AggregateWithin); err != nil {
		t.logger.Warn("recent index update failed",
			slog.String("object_type", ref.ObjectType),
			slog.String("object_id", ref.ObjectID),
			slog.Any("error", err))
	}
}

// invalidateRecent drops the cached entry, logging failures.
func (t *Tracker) invalidateRecent(ctx context.Context, ref ObjectRef) {
	if t.recent == nil {
		return
	}
	if err := t.recent.Invalidate(ctx, ref); err != nil {
		t.logger.Warn("recent index invalidation failed",
			slog.String("object_type", ref.ObjectType),
			slog.String("object_id", ref.ObjectID),
			slog.Any("error", err))
	}
}

// # Soft-Delete Detection

type softDeleteTransition int

const (
	transitionNone softDeleteTransition = iota
	transitionTrashed
	transitionRestored
)

// softDeleteTransition classifies the soft-delete flag movement between two
// snapshots.
func (c ModelConfig) softDeleteTransition(old, new Snapshot) softDeleteTransition {
	if c.TrackSoftDeleteBy == "" || old == nil {
		return transitionNone
	}

	wasDeleted := snapshotBool(old[c.TrackSoftDeleteBy])
	isDeleted := snapshotBool(new[c.TrackSoftDeleteBy])

	switch {
	case !wasDeleted && isDeleted:
		return transitionTrashed
	case wasDeleted && !isDeleted:
		return transitionRestored
	default:
		return transitionNone
	}
}

// snapshotBool interprets a snapshot value as the soft-delete flag.
func snapshotBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case *bool:
		return v != nil && *v
	case string:
		return v == "true"
	default:
		return false
	}
}

// actorID resolves the acting user from the context, nil when anonymous.
func actorID(ctx context.Context) *string {
	if id := ctxutil.GetAuthUserID(ctx); id != "" {
		return &id
	}
	return nil
}

// sameActor compares two nullable user IDs. Two anonymous actors never
// match, so anonymous edits are not folded together.
func sameActor(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
