package changeset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoidl/chronicle/internal/platform/database/schema"
	"github.com/mkoidl/chronicle/internal/platform/dberr"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// # PostgreSQL Repository

// changeSetRepository implements the [Repository] interface using pgx.
type changeSetRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed changeset store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &changeSetRepository{pool: pool}
}

// CreateChangeSet persists a single changeset row.
func (repository *changeSetRepository) CreateChangeSet(context context.Context, cs *ChangeSet) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.ID,
		schema.AuditChangeset.ChangeType,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.UserID,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
	)

	_, err := repository.pool.Exec(context, query,
		cs.ID, string(cs.ChangeType), cs.Date, cs.UserID, cs.ObjectType, cs.ObjectID)
	if err != nil {
		return dberr.Wrap(err, "create changeset")
	}
	return nil
}

// CreateChangeRecords bulk-inserts records using a pgx batch so one round
// trip covers the whole changeset.
func (repository *changeSetRepository) CreateChangeRecords(context context.Context, records []*ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ID,
		schema.AuditChangeRecord.ChangeSetID,
		schema.AuditChangeRecord.FieldName,
		schema.AuditChangeRecord.OldValue,
		schema.AuditChangeRecord.NewValue,
		schema.AuditChangeRecord.IsRelated,
	)

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(query, record.ID, record.ChangeSetID, record.FieldName,
			record.OldValue, record.NewValue, record.IsRelated)
	}

	results := repository.pool.SendBatch(context, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return dberr.Wrap(err, "create change records")
		}
	}
	return nil
}

/*
GetChangeSet retrieves one changeset by ID with its records hydrated.

Parameters:
  - context: context.Context
  - id: string (Changeset UUID)

Returns:
  - *ChangeSet: The changeset with its records in field order of insertion.
  - error: apperr.NotFound when no row matches.
*/
func (repository *changeSetRepository) GetChangeSet(context context.Context, id string) (*ChangeSet, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`,
		schema.AuditChangeset.ID,
		schema.AuditChangeset.ChangeType,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.UserID,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.ID,
	)

	cs, err := scanChangeSet(repository.pool.QueryRow(context, query, id))
	if err != nil {
		return nil, dberr.Wrap(err, "get changeset")
	}

	records, err := repository.recordsByChangeSets(context, []string{cs.ID})
	if err != nil {
		return nil, err
	}
	cs.Records = records[cs.ID]
	return cs, nil
}

/*
ListChangeSets returns a filtered, latest-first page of changesets.

Description: Uses a window function for the total match count so listing and
counting stay a single query. Records are not hydrated here; list consumers
only need the changeset envelope.

Parameters:
  - context: context.Context
  - f: Filter (object type/id, user, change types)
  - limit, offset: pagination bounds

Returns:
  - []*ChangeSet: Slice of changesets, newest first
  - int: Total matching changesets
*/
func (repository *changeSetRepository) ListChangeSets(context context.Context, f Filter, limit, offset int) ([]*ChangeSet, int, error) {

	// Query construction with dynamic filters
	var queryBuilder strings.Builder
	var args []any
	argID := 1

	queryBuilder.WriteString(fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s,
			COUNT(*) OVER() AS total_count
		FROM %s
		WHERE 1=1
	`,
		schema.AuditChangeset.ID,
		schema.AuditChangeset.ChangeType,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.UserID,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
		schema.AuditChangeset.Table,
	))

	if f.ObjectType != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND %s = $%d", schema.AuditChangeset.ObjectType, argID))
		args = append(args, f.ObjectType)
		argID++
	}
	if f.ObjectID != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND %s = $%d", schema.AuditChangeset.ObjectID, argID))
		args = append(args, f.ObjectID)
		argID++
	}
	if f.UserID != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND %s = $%d", schema.AuditChangeset.UserID, argID))
		args = append(args, f.UserID)
		argID++
	}
	if len(f.Types) > 0 {
		codes := make([]string, 0, len(f.Types))
		for _, t := range f.Types {
			codes = append(codes, string(t))
		}
		queryBuilder.WriteString(fmt.Sprintf(" AND %s = ANY($%d)", schema.AuditChangeset.ChangeType, argID))
		args = append(args, codes)
		argID++
	}

	// Latest first; the UUIDv7 primary key breaks date ties in insert order.
	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY %s DESC, %s DESC",
		schema.AuditChangeset.Date, schema.AuditChangeset.ID))
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argID, argID+1))
	args = append(args, limit, offset)

	rows, err := repository.pool.Query(context, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list changesets")
	}
	defer rows.Close()

	var sets []*ChangeSet
	var totalCount int

	for rows.Next() {
		var cs ChangeSet
		var changeType string
		err := rows.Scan(&cs.ID, &changeType, &cs.Date, &cs.UserID,
			&cs.ObjectType, &cs.ObjectID, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: failed to scan changeset: %w", err)
		}
		cs.ChangeType = ChangeType(changeType)
		sets = append(sets, &cs)
	}

	return sets, totalCount, nil
}

// ListObjectHistory pages through one object's changesets, newest first,
// with records hydrated in a second batched query.
func (repository *changeSetRepository) ListObjectHistory(context context.Context, ref ObjectRef, limit, offset int) ([]*ChangeSet, int, error) {
	sets, total, err := repository.ListChangeSets(context,
		Filter{ObjectType: ref.ObjectType, ObjectID: ref.ObjectID}, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if len(sets) == 0 {
		return sets, total, nil
	}

	ids := make([]string, 0, len(sets))
	for _, cs := range sets {
		ids = append(ids, cs.ID)
	}

	records, err := repository.recordsByChangeSets(context, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, cs := range sets {
		cs.Records = records[cs.ID]
	}
	return sets, total, nil
}

// CountChangeSets counts all changesets recorded for one object.
func (repository *changeSetRepository) CountChangeSets(context context.Context, ref ObjectRef) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE %s = $1 AND %s = $2
	`,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
	)

	var count int
	err := repository.pool.QueryRow(context, query, ref.ObjectType, ref.ObjectID).Scan(&count)
	if err != nil {
		return 0, dberr.Wrap(err, "count changesets")
	}
	return count, nil
}

// LatestChangeSet returns the newest changeset of an object excluding the
// given change types, or nil when the object has no matching history.
func (repository *changeSetRepository) LatestChangeSet(context context.Context, ref ObjectRef, excludeTypes []ChangeType) (*ChangeSet, error) {
	var queryBuilder strings.Builder
	args := []any{ref.ObjectType, ref.ObjectID}

	queryBuilder.WriteString(fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2
	`,
		schema.AuditChangeset.ID,
		schema.AuditChangeset.ChangeType,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.UserID,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
	))

	if len(excludeTypes) > 0 {
		codes := make([]string, 0, len(excludeTypes))
		for _, t := range excludeTypes {
			codes = append(codes, string(t))
		}
		queryBuilder.WriteString(fmt.Sprintf(" AND %s <> ALL($3)", schema.AuditChangeset.ChangeType))
		args = append(args, codes)
	}

	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY %s DESC, %s DESC LIMIT 1",
		schema.AuditChangeset.Date, schema.AuditChangeset.ID))

	cs, err := scanChangeSet(repository.pool.QueryRow(context, queryBuilder.String(), args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.Wrap(err, "latest changeset")
	}
	return cs, nil
}

// FirstChangeSet returns the oldest changeset of the given type for an
// object, or nil when none exists.
func (repository *changeSetRepository) FirstChangeSet(context context.Context, ref ObjectRef, ofType ChangeType) (*ChangeSet, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2 AND %s = $3
		ORDER BY %s ASC, %s ASC
		LIMIT 1
	`,
		schema.AuditChangeset.ID,
		schema.AuditChangeset.ChangeType,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.UserID,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.ObjectType,
		schema.AuditChangeset.ObjectID,
		schema.AuditChangeset.ChangeType,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.ID,
	)

	cs, err := scanChangeSet(repository.pool.QueryRow(context, query, ref.ObjectType, ref.ObjectID, string(ofType)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dberr.Wrap(err, "first changeset")
	}
	return cs, nil
}

/*
GetOrCreateChangeRecord finds the non-related record for a field within a
changeset, inserting one when absent.

Description: The lookup and insert run inside one transaction. There is at
most one non-related record per (changeset, field), maintained by the
aggregation flow, so a plain SELECT-then-INSERT suffices.

Returns:
  - *ChangeRecord: the existing or freshly inserted record
  - bool: true when a new row was created
*/
func (repository *changeSetRepository) GetOrCreateChangeRecord(context context.Context, changeSetID, fieldName string, oldValue, newValue *string) (*ChangeRecord, bool, error) {
	tx, err := repository.pool.Begin(context)
	if err != nil {
		return nil, false, dberr.Wrap(err, "get or create change record")
	}
	defer tx.Rollback(context)

	selectQuery := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1 AND %s = $2 AND %s = FALSE
	`,
		schema.AuditChangeRecord.ID,
		schema.AuditChangeRecord.ChangeSetID,
		schema.AuditChangeRecord.FieldName,
		schema.AuditChangeRecord.OldValue,
		schema.AuditChangeRecord.NewValue,
		schema.AuditChangeRecord.IsRelated,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ChangeSetID,
		schema.AuditChangeRecord.FieldName,
		schema.AuditChangeRecord.IsRelated,
	)

	var record ChangeRecord
	err = tx.QueryRow(context, selectQuery, changeSetID, fieldName).Scan(
		&record.ID, &record.ChangeSetID, &record.FieldName,
		&record.OldValue, &record.NewValue, &record.IsRelated)
	if err == nil {
		return &record, false, tx.Commit(context)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, dberr.Wrap(err, "get or create change record")
	}

	record = ChangeRecord{
		ID:          uuidv7.New(),
		ChangeSetID: changeSetID,
		FieldName:   fieldName,
		OldValue:    oldValue,
		NewValue:    newValue,
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ID,
		schema.AuditChangeRecord.ChangeSetID,
		schema.AuditChangeRecord.FieldName,
		schema.AuditChangeRecord.OldValue,
		schema.AuditChangeRecord.NewValue,
		schema.AuditChangeRecord.IsRelated,
	)

	_, err = tx.Exec(context, insertQuery,
		record.ID, record.ChangeSetID, record.FieldName, record.OldValue, record.NewValue)
	if err != nil {
		return nil, false, dberr.Wrap(err, "get or create change record")
	}

	return &record, true, tx.Commit(context)
}

// UpdateChangeRecordNewValue overwrites the destination value of one record.
func (repository *changeSetRepository) UpdateChangeRecordNewValue(context context.Context, id string, newValue *string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2 WHERE %s = $1
	`,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.NewValue,
		schema.AuditChangeRecord.ID,
	)

	_, err := repository.pool.Exec(context, query, id, newValue)
	if err != nil {
		return dberr.Wrap(err, "update change record")
	}
	return nil
}

// DeleteChangeRecord removes one record row.
func (repository *changeSetRepository) DeleteChangeRecord(context context.Context, id string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE %s = $1
	`,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ID,
	)

	_, err := repository.pool.Exec(context, query, id)
	if err != nil {
		return dberr.Wrap(err, "delete change record")
	}
	return nil
}

// CountChangeRecords counts the records of one changeset.
func (repository *changeSetRepository) CountChangeRecords(context context.Context, changeSetID string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE %s = $1
	`,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ChangeSetID,
	)

	var count int
	err := repository.pool.QueryRow(context, query, changeSetID).Scan(&count)
	if err != nil {
		return 0, dberr.Wrap(err, "count change records")
	}
	return count, nil
}

// TouchChangeSet moves a changeset's date forward after aggregation re-use.
func (repository *changeSetRepository) TouchChangeSet(context context.Context, id string, date time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2 WHERE %s = $1
	`,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.Date,
		schema.AuditChangeset.ID,
	)

	_, err := repository.pool.Exec(context, query, id, date)
	if err != nil {
		return dberr.Wrap(err, "touch changeset")
	}
	return nil
}

// DeleteChangeSet removes a changeset with its records in one transaction.
func (repository *changeSetRepository) DeleteChangeSet(context context.Context, id string) error {
	tx, err := repository.pool.Begin(context)
	if err != nil {
		return dberr.Wrap(err, "delete changeset")
	}
	defer tx.Rollback(context)

	deleteRecords := fmt.Sprintf(`
		DELETE FROM %s WHERE %s = $1
	`,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ChangeSetID,
	)
	if _, err := tx.Exec(context, deleteRecords, id); err != nil {
		return dberr.Wrap(err, "delete changeset")
	}

	deleteSet := fmt.Sprintf(`
		DELETE FROM %s WHERE %s = $1
	`,
		schema.AuditChangeset.Table,
		schema.AuditChangeset.ID,
	)
	if _, err := tx.Exec(context, deleteSet, id); err != nil {
		return dberr.Wrap(err, "delete changeset")
	}

	return tx.Commit(context)
}

// # Row Mapping

// scanChangeSet hydrates one changeset row from a pgx row.
func scanChangeSet(row pgx.Row) (*ChangeSet, error) {
	var cs ChangeSet
	var changeType string
	err := row.Scan(&cs.ID, &changeType, &cs.Date, &cs.UserID, &cs.ObjectType, &cs.ObjectID)
	if err != nil {
		return nil, err
	}
	cs.ChangeType = ChangeType(changeType)
	return &cs, nil
}

// recordsByChangeSets loads and groups the records of many changesets.
func (repository *changeSetRepository) recordsByChangeSets(context context.Context, changeSetIDs []string) (map[string][]*ChangeRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = ANY($1)
		ORDER BY %s ASC
	`,
		schema.AuditChangeRecord.ID,
		schema.AuditChangeRecord.ChangeSetID,
		schema.AuditChangeRecord.FieldName,
		schema.AuditChangeRecord.OldValue,
		schema.AuditChangeRecord.NewValue,
		schema.AuditChangeRecord.IsRelated,
		schema.AuditChangeRecord.Table,
		schema.AuditChangeRecord.ChangeSetID,
		schema.AuditChangeRecord.ID,
	)

	rows, err := repository.pool.Query(context, query, changeSetIDs)
	if err != nil {
		return nil, dberr.Wrap(err, "list change records")
	}
	defer rows.Close()

	grouped := make(map[string][]*ChangeRecord, len(changeSetIDs))
	for rows.Next() {
		var record ChangeRecord
		err := rows.Scan(&record.ID, &record.ChangeSetID, &record.FieldName,
			&record.OldValue, &record.NewValue, &record.IsRelated)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan change record: %w", err)
		}
		grouped[record.ChangeSetID] = append(grouped[record.ChangeSetID], &record)
	}

	return grouped, nil
}
