package changeset

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// # In-Memory Fakes

// fakeRepository is an in-memory [Repository] for engine tests.
type fakeRepository struct {
	sets    []*ChangeSet
	records []*ChangeRecord
}

func (f *fakeRepository) CreateChangeSet(_ context.Context, cs *ChangeSet) error {
	clone := *cs
	clone.Records = nil
	f.sets = append(f.sets, &clone)
	return nil
}

func (f *fakeRepository) CreateChangeRecords(_ context.Context, records []*ChangeRecord) error {
	for _, r := range records {
		clone := *r
		f.records = append(f.records, &clone)
	}
	return nil
}

func (f *fakeRepository) GetChangeSet(_ context.Context, id string) (*ChangeSet, error) {
	for _, cs := range f.sets {
		if cs.ID == id {
			clone := *cs
			clone.Records = f.recordsOf(id)
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) ListChangeSets(_ context.Context, _ Filter, _, _ int) ([]*ChangeSet, int, error) {
	return f.sets, len(f.sets), nil
}

func (f *fakeRepository) ListObjectHistory(_ context.Context, ref ObjectRef, _, _ int) ([]*ChangeSet, int, error) {
	var sets []*ChangeSet
	for _, cs := range f.sets {
		if cs.Ref() == ref {
			clone := *cs
			clone.Records = f.recordsOf(cs.ID)
			sets = append(sets, &clone)
		}
	}
	return sets, len(sets), nil
}

func (f *fakeRepository) CountChangeSets(_ context.Context, ref ObjectRef) (int, error) {
	count := 0
	for _, cs := range f.sets {
		if cs.Ref() == ref {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) LatestChangeSet(_ context.Context, ref ObjectRef, excludeTypes []ChangeType) (*ChangeSet, error) {
	var latest *ChangeSet
	for _, cs := range f.sets {
		if cs.Ref() != ref || containsType(excludeTypes, cs.ChangeType) {
			continue
		}
		if latest == nil || cs.Date.After(latest.Date) {
			latest = cs
		}
	}
	return latest, nil
}

func (f *fakeRepository) FirstChangeSet(_ context.Context, ref ObjectRef, ofType ChangeType) (*ChangeSet, error) {
	var first *ChangeSet
	for _, cs := range f.sets {
		if cs.Ref() != ref || cs.ChangeType != ofType {
			continue
		}
		if first == nil || cs.Date.Before(first.Date) {
			first = cs
		}
	}
	return first, nil
}

func (f *fakeRepository) GetOrCreateChangeRecord(_ context.Context, changeSetID, fieldName string, oldValue, newValue *string) (*ChangeRecord, bool, error) {
	for _, r := range f.records {
		if r.ChangeSetID == changeSetID && r.FieldName == fieldName && !r.IsRelated {
			return r, false, nil
		}
	}
	record := &ChangeRecord{
		ID:          uuidv7.New(),
		ChangeSetID: changeSetID,
		FieldName:   fieldName,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	f.records = append(f.records, record)
	return record, true, nil
}

func (f *fakeRepository) UpdateChangeRecordNewValue(_ context.Context, id string, newValue *string) error {
	for _, r := range f.records {
		if r.ID == id {
			r.NewValue = newValue
		}
	}
	return nil
}

func (f *fakeRepository) DeleteChangeRecord(_ context.Context, id string) error {
	kept := f.records[:0]
	for _, r := range f.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return nil
}

func (f *fakeRepository) CountChangeRecords(_ context.Context, changeSetID string) (int, error) {
	return len(f.recordsOf(changeSetID)), nil
}

func (f *fakeRepository) TouchChangeSet(_ context.Context, id string, date time.Time) error {
	for _, cs := range f.sets {
		if cs.ID == id {
			cs.Date = date
		}
	}
	return nil
}

func (f *fakeRepository) DeleteChangeSet(_ context.Context, id string) error {
	keptSets := f.sets[:0]
	for _, cs := range f.sets {
		if cs.ID != id {
			keptSets = append(keptSets, cs)
		}
	}
	f.sets = keptSets

	keptRecords := f.records[:0]
	for _, r := range f.records {
		if r.ChangeSetID != id {
			keptRecords = append(keptRecords, r)
		}
	}
	f.records = keptRecords
	return nil
}

func (f *fakeRepository) recordsOf(changeSetID string) []*ChangeRecord {
	var records []*ChangeRecord
	for _, r := range f.records {
		if r.ChangeSetID == changeSetID {
			records = append(records, r)
		}
	}
	return records
}

func containsType(types []ChangeType, t ChangeType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// fakeRecentIndex records index traffic so tests can assert cache behavior.
type fakeRecentIndex struct {
	entries       map[ObjectRef]RecentEntry
	invalidations int
}

func newFakeRecentIndex() *fakeRecentIndex {
	return &fakeRecentIndex{entries: make(map[ObjectRef]RecentEntry)}
}

func (f *fakeRecentIndex) Get(_ context.Context, ref ObjectRef) (*RecentEntry, error) {
	entry, ok := f.entries[ref]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (f *fakeRecentIndex) Set(_ context.Context, ref ObjectRef, entry RecentEntry, _ time.Duration) error {
	f.entries[ref] = entry
	return nil
}

func (f *fakeRecentIndex) Invalidate(_ context.Context, ref ObjectRef) error {
	delete(f.entries, ref)
	f.invalidations++
	return nil
}

// # Test Harness

type trackerFixture struct {
	tracker *Tracker
	repo    *fakeRepository
	index   *fakeRecentIndex
	clock   time.Time
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	registry := NewRegistry()
	registry.MustRegister(ModelConfig{
		ObjectType:        "polls.poll",
		TrackFields:       []string{"question", "pub_date", "deleted"},
		TrackSoftDeleteBy: "deleted",
		TrackRelated:      []string{"choices"},
		AggregateWithin:   60 * time.Second,
	})
	registry.MustRegister(ModelConfig{
		ObjectType:  "polls.choice",
		TrackFields: []string{"choice_text", "votes"},
	})

	fixture := &trackerFixture{
		repo:  &fakeRepository{},
		index: newFakeRecentIndex(),
		clock: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	fixture.tracker = NewTracker(registry, fixture.repo, fixture.index, discardLogger())
	fixture.tracker.now = func() time.Time { return fixture.clock }
	return fixture
}

func (f *trackerFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func authedContext(userID string) context.Context {
	return ctxutil.WithAuthUser(context.Background(), &sec.AuthClaims{
		UserID: userID,
		Role:   string(sec.RoleMember),
	})
}

// # Engine Tests

/*
TestTracker_RecordInsert verifies the initial revision: one insert changeset
with a record per tracked field and nil old values.
*/
func TestTracker_RecordInsert(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	snap := Snapshot{"question": "What's new?", "pub_date": fixture.clock, "deleted": false}
	require.NoError(t, fixture.tracker.RecordInsert(ctx, "polls.poll", "42", snap))

	require.Len(t, fixture.repo.sets, 1)
	cs := fixture.repo.sets[0]
	assert.Equal(t, TypeInsert, cs.ChangeType)
	require.NotNil(t, cs.UserID)
	assert.Equal(t, "user-1", *cs.UserID)

	records := fixture.repo.recordsOf(cs.ID)
	require.Len(t, records, 3)
	assert.Equal(t, "question", records[0].FieldName)
	assert.Nil(t, records[0].OldValue)
	require.NotNil(t, records[0].NewValue)
	assert.Equal(t, "What's new?", *records[0].NewValue)
}

/*
TestTracker_RecordInsert_SkipsWhenHistoryExists verifies that an object with
prior changesets never gets a second initial revision.
*/
func TestTracker_RecordInsert_SkipsWhenHistoryExists(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	snap := Snapshot{"question": "First?", "deleted": false}
	require.NoError(t, fixture.tracker.RecordInsert(ctx, "polls.poll", "42", snap))
	require.NoError(t, fixture.tracker.RecordInsert(ctx, "polls.poll", "42", snap))

	assert.Len(t, fixture.repo.sets, 1)
}

/*
TestTracker_RecordInsert_AnonymousActor verifies anonymous work is recorded
with a NULL actor.
*/
func TestTracker_RecordInsert_AnonymousActor(t *testing.T) {
	fixture := newTrackerFixture(t)

	snap := Snapshot{"question": "Who?", "deleted": false}
	require.NoError(t, fixture.tracker.RecordInsert(context.Background(), "polls.poll", "42", snap))

	require.Len(t, fixture.repo.sets, 1)
	assert.Nil(t, fixture.repo.sets[0].UserID)
}

/*
TestTracker_DisabledContext verifies the context switch suppresses all
recording.
*/
func TestTracker_DisabledContext(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := ctxutil.WithTrackingDisabled(authedContext("user-1"))

	snap := Snapshot{"question": "Silent?", "deleted": false}
	require.NoError(t, fixture.tracker.RecordInsert(ctx, "polls.poll", "42", snap))
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", snap, Snapshot{"question": "Changed", "deleted": false}))
	require.NoError(t, fixture.tracker.RecordDelete(ctx, "polls.poll", "42", snap))

	assert.Empty(t, fixture.repo.sets)
}

/*
TestTracker_RecordUpdate_NoChanges verifies a save without field changes
records nothing.
*/
func TestTracker_RecordUpdate_NoChanges(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	snap := Snapshot{"question": "Same", "deleted": false}
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", snap, snap))

	assert.Empty(t, fixture.repo.sets)
}

/*
TestTracker_RecordUpdate_UnregisteredModel verifies unknown object types are
rejected.
*/
func TestTracker_RecordUpdate_UnregisteredModel(t *testing.T) {
	fixture := newTrackerFixture(t)

	err := fixture.tracker.RecordUpdate(authedContext("user-1"), "polls.unknown", "1", nil, Snapshot{})
	assert.Error(t, err)
}

/*
TestTracker_SoftDeleteAndRestore verifies the trash flag transitions get
their own change types.
*/
func TestTracker_SoftDeleteAndRestore(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	active := Snapshot{"question": "Q", "deleted": false}
	trashed := Snapshot{"question": "Q", "deleted": true}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", active, trashed))
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", trashed, active))

	require.Len(t, fixture.repo.sets, 2)
	assert.Equal(t, TypeSoftDelete, fixture.repo.sets[0].ChangeType)
	assert.Equal(t, TypeRestore, fixture.repo.sets[1].ChangeType)
}

/*
TestTracker_Aggregation_MergesRapidEdits verifies that a second edit by the
same user within the window folds into the first changeset, keeping the
original old value and the newest new value.
*/
func TestTracker_Aggregation_MergesRapidEdits(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	v1 := Snapshot{"question": "v1", "deleted": false}
	v2 := Snapshot{"question": "v2", "deleted": false}
	v3 := Snapshot{"question": "v3", "deleted": false}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v1, v2))
	fixture.advance(10 * time.Second)
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v2, v3))

	require.Len(t, fixture.repo.sets, 1)
	cs := fixture.repo.sets[0]
	assert.Equal(t, fixture.clock, cs.Date)

	records := fixture.repo.recordsOf(cs.ID)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].OldValue)
	require.NotNil(t, records[0].NewValue)
	assert.Equal(t, "v1", *records[0].OldValue)
	assert.Equal(t, "v3", *records[0].NewValue)
}

/*
TestTracker_Aggregation_DropsRoundTripRecords verifies that editing a value
back to its original drops the record, and an emptied changeset disappears.
*/
func TestTracker_Aggregation_DropsRoundTripRecords(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	v1 := Snapshot{"question": "v1", "deleted": false}
	v2 := Snapshot{"question": "v2", "deleted": false}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v1, v2))
	fixture.advance(5 * time.Second)
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v2, v1))

	assert.Empty(t, fixture.repo.sets)
	assert.Empty(t, fixture.repo.records)
}

/*
TestTracker_Aggregation_DifferentUserOpensNewChangeSet verifies edits by
another user are never folded together.
*/
func TestTracker_Aggregation_DifferentUserOpensNewChangeSet(t *testing.T) {
	fixture := newTrackerFixture(t)

	v1 := Snapshot{"question": "v1", "deleted": false}
	v2 := Snapshot{"question": "v2", "deleted": false}
	v3 := Snapshot{"question": "v3", "deleted": false}

	require.NoError(t, fixture.tracker.RecordUpdate(authedContext("user-1"), "polls.poll", "42", v1, v2))
	fixture.advance(5 * time.Second)
	require.NoError(t, fixture.tracker.RecordUpdate(authedContext("user-2"), "polls.poll", "42", v2, v3))

	assert.Len(t, fixture.repo.sets, 2)
}

/*
TestTracker_Aggregation_ExpiredWindowOpensNewChangeSet verifies edits outside
the aggregation window open a fresh changeset.
*/
func TestTracker_Aggregation_ExpiredWindowOpensNewChangeSet(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	v1 := Snapshot{"question": "v1", "deleted": false}
	v2 := Snapshot{"question": "v2", "deleted": false}
	v3 := Snapshot{"question": "v3", "deleted": false}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v1, v2))
	fixture.advance(2 * time.Minute)
	fixture.index.entries = map[ObjectRef]RecentEntry{}
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v2, v3))

	assert.Len(t, fixture.repo.sets, 2)
}

/*
TestTracker_Aggregation_AnonymousNeverAggregates verifies two anonymous edits
always produce distinct changesets.
*/
func TestTracker_Aggregation_AnonymousNeverAggregates(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := context.Background()

	v1 := Snapshot{"question": "v1", "deleted": false}
	v2 := Snapshot{"question": "v2", "deleted": false}
	v3 := Snapshot{"question": "v3", "deleted": false}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v1, v2))
	fixture.advance(time.Second)
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v2, v3))

	assert.Len(t, fixture.repo.sets, 2)
}

/*
TestTracker_Aggregation_ModelWithoutWindow verifies models without an
aggregation window always open new changesets.
*/
func TestTracker_Aggregation_ModelWithoutWindow(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	v1 := Snapshot{"choice_text": "a", "votes": 0}
	v2 := Snapshot{"choice_text": "a", "votes": 1}
	v3 := Snapshot{"choice_text": "a", "votes": 2}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.choice", "7", v1, v2))
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.choice", "7", v2, v3))

	assert.Len(t, fixture.repo.sets, 2)
}

/*
TestTracker_RecordDelete verifies hard deletes keep the final values as old
values and invalidate the recent index.
*/
func TestTracker_RecordDelete(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	last := Snapshot{"question": "Bye", "deleted": false}
	require.NoError(t, fixture.tracker.RecordDelete(ctx, "polls.poll", "42", last))

	require.Len(t, fixture.repo.sets, 1)
	cs := fixture.repo.sets[0]
	assert.Equal(t, TypeDelete, cs.ChangeType)

	records := fixture.repo.recordsOf(cs.ID)
	require.Len(t, records, 3)
	require.NotNil(t, records[0].OldValue)
	assert.Equal(t, "Bye", *records[0].OldValue)
	assert.Nil(t, records[0].NewValue)

	assert.GreaterOrEqual(t, fixture.index.invalidations, 1)
}

/*
TestTracker_RecordRelatedChange verifies child changes land on the parent as
a single related record, typed insert for parents without history.
*/
func TestTracker_RecordRelatedChange(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	require.NoError(t, fixture.tracker.RecordRelatedChange(ctx, "polls.poll", "42", "choices", "7"))
	require.NoError(t, fixture.tracker.RecordRelatedChange(ctx, "polls.poll", "42", "choices", "8"))

	require.Len(t, fixture.repo.sets, 2)
	assert.Equal(t, TypeInsert, fixture.repo.sets[0].ChangeType)
	assert.Equal(t, TypeUpdate, fixture.repo.sets[1].ChangeType)

	records := fixture.repo.recordsOf(fixture.repo.sets[0].ID)
	require.Len(t, records, 1)
	assert.True(t, records[0].IsRelated)
	assert.Equal(t, "choices", records[0].FieldName)
	require.NotNil(t, records[0].NewValue)
	assert.Equal(t, "7", *records[0].NewValue)
}

/*
TestTracker_RecordRelatedChange_UndeclaredRelation verifies propagation is
refused under a relation name the parent model never registered.
*/
func TestTracker_RecordRelatedChange_UndeclaredRelation(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := authedContext("user-1")

	err := fixture.tracker.RecordRelatedChange(ctx, "polls.poll", "42", "ballots", "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not track relation")
	assert.Empty(t, fixture.repo.sets)

	// polls.choice declares no relations at all.
	err = fixture.tracker.RecordRelatedChange(ctx, "polls.choice", "7", "votes", "v1")
	require.Error(t, err)
	assert.Empty(t, fixture.repo.sets)
}

/*
TestTracker_RecordRelatedChange_Disabled verifies the related-tracking
context switch suppresses propagation while leaving direct tracking alone.
*/
func TestTracker_RecordRelatedChange_Disabled(t *testing.T) {
	fixture := newTrackerFixture(t)
	ctx := ctxutil.WithRelatedTrackingDisabled(authedContext("user-1"))

	require.NoError(t, fixture.tracker.RecordRelatedChange(ctx, "polls.poll", "42", "choices", "7"))
	assert.Empty(t, fixture.repo.sets)

	snap := Snapshot{"question": "Still tracked", "deleted": false}
	require.NoError(t, fixture.tracker.RecordInsert(ctx, "polls.poll", "42", snap))
	assert.Len(t, fixture.repo.sets, 1)
}

/*
TestTracker_NilRecentIndex verifies the engine works without a cache,
falling back to repository lookups for aggregation.
*/
func TestTracker_NilRecentIndex(t *testing.T) {
	fixture := newTrackerFixture(t)
	fixture.tracker.recent = nil
	ctx := authedContext("user-1")

	v1 := Snapshot{"question": "v1", "deleted": false}
	v2 := Snapshot{"question": "v2", "deleted": false}
	v3 := Snapshot{"question": "v3", "deleted": false}

	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v1, v2))
	fixture.advance(10 * time.Second)
	require.NoError(t, fixture.tracker.RecordUpdate(ctx, "polls.poll", "42", v2, v3))

	assert.Len(t, fixture.repo.sets, 1)
}
