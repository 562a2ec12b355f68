package changeset

import (
	"errors"
	"fmt"
)

// ConcurrentUpdateError is returned by domain stores when an optimistic
// version check fails: the row was modified between read and write.
//
// Callers are expected to reload the object and retry or surface a conflict
// to the client.
type ConcurrentUpdateError struct {
	ObjectType    string
	ObjectID      string
	LatestVersion int
}

func (e *ConcurrentUpdateError) Error() string {
	return fmt.Sprintf("concurrent update on %s %s (latest version %d)", e.ObjectType, e.ObjectID, e.LatestVersion)
}

// IsConcurrentUpdate reports whether err is a [ConcurrentUpdateError].
func IsConcurrentUpdate(err error) bool {
	var cue *ConcurrentUpdateError
	return errors.As(err, &cue)
}
