package schema

// PollsPollTable represents the 'polls.poll' table
type PollsPollTable struct {
	Table      string
	ID         string
	Question   string
	PubDate    string
	Deleted    string
	Version    string
	CreatedBy  string
	CreatedAt  string
	ModifiedBy string
	ModifiedAt string
}

var PollsPoll = PollsPollTable{
	Table:      "polls.poll",
	ID:         "id",
	Question:   "question",
	PubDate:    "pubdate",
	Deleted:    "deleted",
	Version:    "version",
	CreatedBy:  "createdby",
	CreatedAt:  "createdat",
	ModifiedBy: "modifiedby",
	ModifiedAt: "modifiedat",
}
