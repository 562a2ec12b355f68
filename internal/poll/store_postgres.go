package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkoidl/chronicle/internal/changeset"
	"github.com/mkoidl/chronicle/internal/platform/database/schema"
	"github.com/mkoidl/chronicle/internal/platform/dberr"
)

// # PostgreSQL Repository

// pollRepository implements the [Repository] interface using pgx.
type pollRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed polls store.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pollRepository{pool: pool}
}

/*
ListPolls retrieves a filtered page of polls, newest publication first.

Description: Authorship filters are resolved against the audit log with
correlated subqueries, so the polls table itself carries no denormalized
author columns that could drift from the change history.

Parameters:
  - context: context.Context
  - f: Filter (question search, authorship, trash visibility)
  - limit, offset: pagination bounds

Returns:
  - []*Poll: Slice of polls
  - int: Total matching polls
*/
func (repository *pollRepository) ListPolls(context context.Context, f Filter, limit, offset int) ([]*Poll, int, error) {

	// Query construction with dynamic filters
	var queryBuilder strings.Builder
	var args []any
	argID := 1

	queryBuilder.WriteString(fmt.Sprintf(`
		SELECT p.%s, p.%s, p.%s, p.%s, p.%s, p.%s, p.%s, p.%s, p.%s,
			COUNT(*) OVER() AS total_count
		FROM %s p
		WHERE 1=1
	`,
		schema.PollsPoll.ID,
		schema.PollsPoll.Question,
		schema.PollsPoll.PubDate,
		schema.PollsPoll.Deleted,
		schema.PollsPoll.Version,
		schema.PollsPoll.CreatedBy,
		schema.PollsPoll.CreatedAt,
		schema.PollsPoll.ModifiedBy,
		schema.PollsPoll.ModifiedAt,
		schema.PollsPoll.Table,
	))

	if !f.IncludeDeleted {
		queryBuilder.WriteString(fmt.Sprintf(" AND p.%s = FALSE", schema.PollsPoll.Deleted))
	}

	if f.Query != "" {
		queryBuilder.WriteString(fmt.Sprintf(" AND p.%s ILIKE $%d", schema.PollsPoll.Question, argID))
		args = append(args, "%"+f.Query+"%")
		argID++
	}

	// "Created by" means: the object's insert changeset belongs to the user.
	if f.CreatedByUserID != "" {
		queryBuilder.WriteString(fmt.Sprintf(`
			AND EXISTS (
				SELECT 1 FROM %s cs
				WHERE cs.%s = '%s' AND cs.%s = p.%s::text
					AND cs.%s = 'I' AND cs.%s = $%d
			)
		`,
			schema.AuditChangeset.Table,
			schema.AuditChangeset.ObjectType, ObjectTypePoll,
			schema.AuditChangeset.ObjectID, schema.PollsPoll.ID,
			schema.AuditChangeset.ChangeType,
			schema.AuditChangeset.UserID, argID,
		))
		args = append(args, f.CreatedByUserID)
		argID++
	}

	// "Modified by" means: the object's newest changeset belongs to the user.
	if f.ModifiedByUserID != "" {
		queryBuilder.WriteString(fmt.Sprintf(`
			AND $%d = (
				SELECT cs.%s FROM %s cs
				WHERE cs.%s = '%s' AND cs.%s = p.%s::text
				ORDER BY cs.%s DESC, cs.%s DESC
				LIMIT 1
			)
		`,
			argID,
			schema.AuditChangeset.UserID, schema.AuditChangeset.Table,
			schema.AuditChangeset.ObjectType, ObjectTypePoll,
			schema.AuditChangeset.ObjectID, schema.PollsPoll.ID,
			schema.AuditChangeset.Date, schema.AuditChangeset.ID,
		))
		args = append(args, f.ModifiedByUserID)
		argID++
	}

	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY p.%s DESC, p.%s DESC", schema.PollsPoll.PubDate, schema.PollsPoll.ID))
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d OFFSET $%d", argID, argID+1))
	args = append(args, limit, offset)

	rows, err := repository.pool.Query(context, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list polls")
	}
	defer rows.Close()

	var polls []*Poll
	var totalCount int

	for rows.Next() {
		var p Poll
		err := rows.Scan(&p.ID, &p.Question, &p.PubDate, &p.Deleted, &p.Version,
			&p.CreatedBy, &p.CreatedAt, &p.ModifiedBy, &p.ModifiedAt, &totalCount)
		if err != nil {
			return nil, 0, fmt.Errorf("postgres: failed to scan poll: %w", err)
		}
		polls = append(polls, &p)
	}

	return polls, totalCount, nil
}

// GetPoll returns one poll with its choices, including trashed polls so the
// restore flow can reach them.
func (repository *pollRepository) GetPoll(context context.Context, id string) (*Poll, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`,
		schema.PollsPoll.ID,
		schema.PollsPoll.Question,
		schema.PollsPoll.PubDate,
		schema.PollsPoll.Deleted,
		schema.PollsPoll.Version,
		schema.PollsPoll.CreatedBy,
		schema.PollsPoll.CreatedAt,
		schema.PollsPoll.ModifiedBy,
		schema.PollsPoll.ModifiedAt,
		schema.PollsPoll.Table,
		schema.PollsPoll.ID,
	)

	var p Poll
	err := repository.pool.QueryRow(context, query, id).Scan(
		&p.ID, &p.Question, &p.PubDate, &p.Deleted, &p.Version,
		&p.CreatedBy, &p.CreatedAt, &p.ModifiedBy, &p.ModifiedAt)
	if err != nil {
		return nil, dberr.Wrap(err, "get poll")
	}

	choices, err := repository.ListChoices(context, p.ID)
	if err != nil {
		return nil, err
	}
	p.Choices = choices
	return &p, nil
}

// CreatePoll persists a new poll at version 1.
func (repository *pollRepository) CreatePoll(context context.Context, p *Poll) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		schema.PollsPoll.Table,
		schema.PollsPoll.ID,
		schema.PollsPoll.Question,
		schema.PollsPoll.PubDate,
		schema.PollsPoll.Deleted,
		schema.PollsPoll.Version,
		schema.PollsPoll.CreatedBy,
		schema.PollsPoll.CreatedAt,
		schema.PollsPoll.ModifiedBy,
		schema.PollsPoll.ModifiedAt,
	)

	_, err := repository.pool.Exec(context, query,
		p.ID, p.Question, p.PubDate, p.Deleted, p.Version,
		p.CreatedBy, p.CreatedAt, p.ModifiedBy, p.ModifiedAt)
	if err != nil {
		return dberr.Wrap(err, "create poll")
	}
	return nil
}

/*
UpdatePoll writes the poll guarded by its optimistic version counter.

Description: The UPDATE only matches when the stored version equals
expectedVersion. When no row is touched the current version is re-read to
distinguish a stale version from a missing poll.

Returns:
  - error: [changeset.ConcurrentUpdateError] on version clash,
    apperr.NotFound when the poll is gone.
*/
func (repository *pollRepository) UpdatePoll(context context.Context, p *Poll, expectedVersion int) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = $3, %s = $4, %s = $5, %s = %s + 1, %s = $6, %s = $7
		WHERE %s = $1 AND %s = $2
		RETURNING %s
	`,
		schema.PollsPoll.Table,
		schema.PollsPoll.Question,
		schema.PollsPoll.PubDate,
		schema.PollsPoll.Deleted,
		schema.PollsPoll.Version, schema.PollsPoll.Version,
		schema.PollsPoll.ModifiedBy,
		schema.PollsPoll.ModifiedAt,
		schema.PollsPoll.ID,
		schema.PollsPoll.Version,
		schema.PollsPoll.Version,
	)

	err := repository.pool.QueryRow(context, query,
		p.ID, expectedVersion, p.Question, p.PubDate, p.Deleted,
		p.ModifiedBy, p.ModifiedAt).Scan(&p.Version)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return dberr.Wrap(err, "update poll")
	}

	// No row matched: either the version is stale or the poll is gone.
	versionQuery := fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s = $1
	`,
		schema.PollsPoll.Version,
		schema.PollsPoll.Table,
		schema.PollsPoll.ID,
	)

	var latestVersion int
	err = repository.pool.QueryRow(context, versionQuery, p.ID).Scan(&latestVersion)
	if err != nil {
		return dberr.Wrap(err, "update poll")
	}

	return &changeset.ConcurrentUpdateError{
		ObjectType:    ObjectTypePoll,
		ObjectID:      p.ID,
		LatestVersion: latestVersion,
	}
}

// DeletePoll removes a poll with its choices and votes in one transaction.
func (repository *pollRepository) DeletePoll(context context.Context, id string) error {
	tx, err := repository.pool.Begin(context)
	if err != nil {
		return dberr.Wrap(err, "delete poll")
	}
	defer tx.Rollback(context)

	deleteVotes := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.PollsVote.Table, schema.PollsVote.PollID)
	if _, err := tx.Exec(context, deleteVotes, id); err != nil {
		return dberr.Wrap(err, "delete poll")
	}

	deleteChoices := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.PollsChoice.Table, schema.PollsChoice.PollID)
	if _, err := tx.Exec(context, deleteChoices, id); err != nil {
		return dberr.Wrap(err, "delete poll")
	}

	deletePoll := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.PollsPoll.Table, schema.PollsPoll.ID)
	result, err := tx.Exec(context, deletePoll, id)
	if err != nil {
		return dberr.Wrap(err, "delete poll")
	}
	if result.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}

	return tx.Commit(context)
}

// # Choices

// GetChoice returns one choice row.
func (repository *pollRepository) GetChoice(context context.Context, id string) (*Choice, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
	`,
		schema.PollsChoice.ID,
		schema.PollsChoice.PollID,
		schema.PollsChoice.ChoiceText,
		schema.PollsChoice.Votes,
		schema.PollsChoice.CreatedAt,
		schema.PollsChoice.ModifiedAt,
		schema.PollsChoice.Table,
		schema.PollsChoice.ID,
	)

	var c Choice
	err := repository.pool.QueryRow(context, query, id).Scan(
		&c.ID, &c.PollID, &c.ChoiceText, &c.Votes, &c.CreatedAt, &c.ModifiedAt)
	if err != nil {
		return nil, dberr.Wrap(err, "get choice")
	}
	return &c, nil
}

// ListChoices returns the choices of a poll in insertion order.
func (repository *pollRepository) ListChoices(context context.Context, pollID string) ([]*Choice, error) {
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s
		FROM %s
		WHERE %s = $1
		ORDER BY %s ASC
	`,
		schema.PollsChoice.ID,
		schema.PollsChoice.PollID,
		schema.PollsChoice.ChoiceText,
		schema.PollsChoice.Votes,
		schema.PollsChoice.CreatedAt,
		schema.PollsChoice.ModifiedAt,
		schema.PollsChoice.Table,
		schema.PollsChoice.PollID,
		schema.PollsChoice.ID,
	)

	rows, err := repository.pool.Query(context, query, pollID)
	if err != nil {
		return nil, dberr.Wrap(err, "list choices")
	}
	defer rows.Close()

	var choices []*Choice
	for rows.Next() {
		var c Choice
		err := rows.Scan(&c.ID, &c.PollID, &c.ChoiceText, &c.Votes, &c.CreatedAt, &c.ModifiedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan choice: %w", err)
		}
		choices = append(choices, &c)
	}
	return choices, nil
}

// CreateChoice persists a new choice.
func (repository *pollRepository) CreateChoice(context context.Context, c *Choice) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		schema.PollsChoice.Table,
		schema.PollsChoice.ID,
		schema.PollsChoice.PollID,
		schema.PollsChoice.ChoiceText,
		schema.PollsChoice.Votes,
		schema.PollsChoice.CreatedAt,
		schema.PollsChoice.ModifiedAt,
	)

	_, err := repository.pool.Exec(context, query,
		c.ID, c.PollID, c.ChoiceText, c.Votes, c.CreatedAt, c.ModifiedAt)
	if err != nil {
		return dberr.Wrap(err, "create choice")
	}
	return nil
}

// UpdateChoice writes the choice's mutable fields.
func (repository *pollRepository) UpdateChoice(context context.Context, c *Choice) error {
	query := fmt.Sprintf(`
		UPDATE %s SET %s = $2, %s = $3, %s = $4 WHERE %s = $1
	`,
		schema.PollsChoice.Table,
		schema.PollsChoice.ChoiceText,
		schema.PollsChoice.Votes,
		schema.PollsChoice.ModifiedAt,
		schema.PollsChoice.ID,
	)

	result, err := repository.pool.Exec(context, query, c.ID, c.ChoiceText, c.Votes, c.ModifiedAt)
	if err != nil {
		return dberr.Wrap(err, "update choice")
	}
	if result.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}
	return nil
}

// DeleteChoice removes a choice with its votes.
func (repository *pollRepository) DeleteChoice(context context.Context, id string) error {
	tx, err := repository.pool.Begin(context)
	if err != nil {
		return dberr.Wrap(err, "delete choice")
	}
	defer tx.Rollback(context)

	deleteVotes := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.PollsVote.Table, schema.PollsVote.ChoiceID)
	if _, err := tx.Exec(context, deleteVotes, id); err != nil {
		return dberr.Wrap(err, "delete choice")
	}

	deleteChoice := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`,
		schema.PollsChoice.Table, schema.PollsChoice.ID)
	result, err := tx.Exec(context, deleteChoice, id)
	if err != nil {
		return dberr.Wrap(err, "delete choice")
	}
	if result.RowsAffected() == 0 {
		return dberr.ErrNotFound
	}

	return tx.Commit(context)
}

// # Votes

/*
CreateVote records a cast vote and bumps the chosen option's counter.

Description: Both writes run in one transaction so the denormalized counter
can never drift from the vote rows. The updated choice is returned so the
caller can track the counter change.
*/
func (repository *pollRepository) CreateVote(context context.Context, v *Vote) (*Choice, error) {
	tx, err := repository.pool.Begin(context)
	if err != nil {
		return nil, dberr.Wrap(err, "create vote")
	}
	defer tx.Rollback(context)

	insertVote := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5)
	`,
		schema.PollsVote.Table,
		schema.PollsVote.ID,
		schema.PollsVote.PollID,
		schema.PollsVote.ChoiceID,
		schema.PollsVote.UserID,
		schema.PollsVote.CreatedAt,
	)
	if _, err := tx.Exec(context, insertVote, v.ID, v.PollID, v.ChoiceID, v.UserID, v.CreatedAt); err != nil {
		return nil, dberr.Wrap(err, "create vote")
	}

	bumpCounter := fmt.Sprintf(`
		UPDATE %s SET %s = %s + 1, %s = $2
		WHERE %s = $1
		RETURNING %s, %s, %s, %s, %s, %s
	`,
		schema.PollsChoice.Table,
		schema.PollsChoice.Votes, schema.PollsChoice.Votes,
		schema.PollsChoice.ModifiedAt,
		schema.PollsChoice.ID,
		schema.PollsChoice.ID,
		schema.PollsChoice.PollID,
		schema.PollsChoice.ChoiceText,
		schema.PollsChoice.Votes,
		schema.PollsChoice.CreatedAt,
		schema.PollsChoice.ModifiedAt,
	)

	var c Choice
	err = tx.QueryRow(context, bumpCounter, v.ChoiceID, v.CreatedAt).Scan(
		&c.ID, &c.PollID, &c.ChoiceText, &c.Votes, &c.CreatedAt, &c.ModifiedAt)
	if err != nil {
		return nil, dberr.Wrap(err, "create vote")
	}

	if err := tx.Commit(context); err != nil {
		return nil, dberr.Wrap(err, "create vote")
	}
	return &c, nil
}

// HasVoted reports whether the user already voted on the poll.
func (repository *pollRepository) HasVoted(context context.Context, pollID, userID string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s WHERE %s = $1 AND %s = $2
		)
	`,
		schema.PollsVote.Table,
		schema.PollsVote.PollID,
		schema.PollsVote.UserID,
	)

	var voted bool
	err := repository.pool.QueryRow(context, query, pollID, userID).Scan(&voted)
	if err != nil {
		return false, dberr.Wrap(err, "check vote")
	}
	return voted, nil
}
