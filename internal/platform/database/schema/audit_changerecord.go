package schema

// AuditChangeRecordTable represents the 'audit.changerecord' table
type AuditChangeRecordTable struct {
	Table       string
	ID          string
	ChangeSetID string
	FieldName   string
	OldValue    string
	NewValue    string
	IsRelated   string
}

var AuditChangeRecord = AuditChangeRecordTable{
	Table:       "audit.changerecord",
	ID:          "id",
	ChangeSetID: "changesetid",
	FieldName:   "fieldname",
	OldValue:    "oldvalue",
	NewValue:    "newvalue",
	IsRelated:   "isrelated",
}
