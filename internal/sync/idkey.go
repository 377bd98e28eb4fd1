// Package sync reconciles the local commit store with the remote record
// service: push, pull, conflict resolution, and the background queue that
// drives them.
package sync

import "github.com/google/uuid"

// nsRecordID is the namespace for identifiers derived from free-form local
// ids. It must never change: key stability across runs is what makes a
// re-push after partial failure land on the same remote rows.
var nsRecordID = uuid.MustParse("2f1ed5a3-97c6-4bb6-9e44-18e2b2f0a713")

// NormalizeID maps an arbitrary local identifier to the UUID form the record
// service keys on. A string that already is a UUID passes through in
// canonical lowercase; anything else is deterministically derived, so the
// same input always yields the same remote key.
func NormalizeID(s string) string {
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(nsRecordID, []byte(s)).String()
}
