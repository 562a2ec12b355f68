package schema

// AuditChangesetTable represents the 'audit.changeset' table
type AuditChangesetTable struct {
	Table      string
	ID         string
	ChangeType string
	Date       string
	UserID     string
	ObjectType string
	ObjectID   string
}

var AuditChangeset = AuditChangesetTable{
	Table:      "audit.changeset",
	ID:         "id",
	ChangeType: "changetype",
	Date:       "date",
	UserID:     "userid",
	ObjectType: "objecttype",
	ObjectID:   "objectid",
}
