package schema

// PollsChoiceTable represents the 'polls.choice' table
type PollsChoiceTable struct {
	Table      string
	ID         string
	PollID     string
	ChoiceText string
	Votes      string
	CreatedAt  string
	ModifiedAt string
}

var PollsChoice = PollsChoiceTable{
	Table:      "polls.choice",
	ID:         "id",
	PollID:     "pollid",
	ChoiceText: "choicetext",
	Votes:      "votes",
	CreatedAt:  "createdat",
	ModifiedAt: "modifiedat",
}
