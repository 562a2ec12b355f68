package poll

import "context"

// Repository defines the data access contract for polls, choices and votes.
type Repository interface {
	// ListPolls returns a filtered, newest-first page of polls with the
	// total match count. Choices are not hydrated.
	ListPolls(context context.Context, f Filter, limit, offset int) ([]*Poll, int, error)

	// GetPoll returns one poll with its choices hydrated, regardless of the
	// soft-delete flag.
	GetPoll(context context.Context, id string) (*Poll, error)

	// CreatePoll persists a new poll.
	CreatePoll(context context.Context, p *Poll) error

	// UpdatePoll writes the poll's mutable fields guarded by the optimistic
	// version counter. The stored version must equal expectedVersion; on
	// success the poll's Version is bumped. A stale version yields a
	// [changeset.ConcurrentUpdateError].
	UpdatePoll(context context.Context, p *Poll, expectedVersion int) error

	// DeletePoll removes a poll with its choices and votes.
	DeletePoll(context context.Context, id string) error

	// GetChoice returns one choice.
	GetChoice(context context.Context, id string) (*Choice, error)

	// ListChoices returns the choices of a poll in insertion order.
	ListChoices(context context.Context, pollID string) ([]*Choice, error)

	// CreateChoice persists a new choice.
	CreateChoice(context context.Context, c *Choice) error

	// UpdateChoice writes the choice's mutable fields.
	UpdateChoice(context context.Context, c *Choice) error

	// DeleteChoice removes a choice with its votes.
	DeleteChoice(context context.Context, id string) error

	// CreateVote records a cast vote and atomically increments the vote
	// counter of the chosen option, returning the updated choice.
	CreateVote(context context.Context, v *Vote) (*Choice, error)

	// HasVoted reports whether the user already voted on the poll.
	HasVoted(context context.Context, pollID, userID string) (bool, error)
}
