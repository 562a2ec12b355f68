/*
Package poll implements the polls domain, the reference consumer of the
change-tracking engine.

Every mutation captures snapshots around the write and reports them to the
[changeset.Tracker]: poll edits are tracked field by field, soft deletes and
restores get their own change types, and choice or vote activity is
propagated onto the owning poll as related changes. Poll rows additionally
carry an optimistic version counter so concurrent editors cannot silently
overwrite each other.
*/
package poll

import (
	"time"

	"github.com/mkoidl/chronicle/internal/changeset"
)

// ObjectType identifiers under which the polls models are registered.
const (
	ObjectTypePoll   = "polls.poll"
	ObjectTypeChoice = "polls.choice"
)

// RelationChoices is the field name under which choice activity appears in
// a poll's change history.
const RelationChoices = "choices"

// AggregationWindow folds rapid successive poll edits by the same user into
// one changeset.
const AggregationWindow = 60 * time.Second

// Poll is a question put to the audience.
type Poll struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	PubDate  time.Time `json:"pub_date"`
	// Deleted is the soft-delete flag. Trashed polls stay queryable for
	// staff and can be restored.
	Deleted bool `json:"deleted"`
	// Version is the optimistic concurrency counter, bumped on every write.
	Version int `json:"version"`

	CreatedBy  *string   `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedBy *string   `json:"modified_by"`
	ModifiedAt time.Time `json:"modified_at"`

	// Choices are hydrated on detail reads.
	Choices []*Choice `json:"choices,omitempty"`
}

// snapshot captures the tracked fields of the poll.
func (p *Poll) snapshot() changeset.Snapshot {
	return changeset.Snapshot{
		"question": p.Question,
		"pub_date": p.PubDate,
		"deleted":  p.Deleted,
	}
}

// Choice is one answer option of a poll.
type Choice struct {
	ID         string    `json:"id"`
	PollID     string    `json:"poll_id"`
	ChoiceText string    `json:"choice_text"`
	Votes      int       `json:"votes"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// snapshot captures the tracked fields of the choice.
func (c *Choice) snapshot() changeset.Snapshot {
	return changeset.Snapshot{
		"choice_text": c.ChoiceText,
		"votes":       c.Votes,
	}
}

// Vote is one user's cast vote on a poll.
type Vote struct {
	ID        string    `json:"id"`
	PollID    string    `json:"poll_id"`
	ChoiceID  string    `json:"choice_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter holds the parameters for a paginated poll search.
type Filter struct {
	// Query matches against the poll question.
	Query string
	// CreatedByUserID keeps polls whose insert changeset belongs to the user.
	CreatedByUserID string
	// ModifiedByUserID keeps polls whose newest changeset belongs to the user.
	ModifiedByUserID string
	// IncludeDeleted also returns trashed polls. Staff only.
	IncludeDeleted bool
}

// # Field Identifiers

// Field names for validation in the polls domain.
const (
	FieldQuestion   = "question"
	FieldPubDate    = "pub_date"
	FieldChoiceText = "choice_text"
	FieldChoiceID   = "choice_id"
	FieldVersion    = "version"
)

// RegisterModels declares the polls models in the tracking registry. Called
// once during wiring.
func RegisterModels(registry *changeset.Registry) {
	registry.MustRegister(changeset.ModelConfig{
		ObjectType:        ObjectTypePoll,
		TrackFields:       []string{"question", "pub_date", "deleted"},
		TrackSoftDeleteBy: "deleted",
		TrackRelated:      []string{RelationChoices},
		AggregateWithin:   AggregationWindow,
		Fields: map[string]changeset.FieldDescriptor{
			"question": {Name: "question", Label: "Question"},
			"pub_date": {Name: "pub_date", Label: "Date published"},
			"deleted":  {Name: "deleted", Label: "Trashed", Choices: map[string]string{"true": "Yes", "false": "No"}},
			"choices":  {Name: "choices", Label: "Choices", IsRelation: true},
		},
	})
	registry.MustRegister(changeset.ModelConfig{
		ObjectType:  ObjectTypeChoice,
		TrackFields: []string{"choice_text", "votes"},
		Fields: map[string]changeset.FieldDescriptor{
			"choice_text": {Name: "choice_text", Label: "Choice"},
		},
	})
}
