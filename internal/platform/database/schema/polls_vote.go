package schema

// PollsVoteTable represents the 'polls.vote' table
type PollsVoteTable struct {
	Table     string
	ID        string
	PollID    string
	ChoiceID  string
	UserID    string
	CreatedAt string
}

var PollsVote = PollsVoteTable{
	Table:     "polls.vote",
	ID:        "id",
	PollID:    "pollid",
	ChoiceID:  "choiceid",
	UserID:    "userid",
	CreatedAt: "createdat",
}
