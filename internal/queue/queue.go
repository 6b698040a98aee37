// Package queue holds C3's pure task-claim eligibility logic —
// program/version matching — factored out of SQL so it is unit
// testable without a database. Grounded on beads' pluggable sort-policy
// helper in internal/storage/sqlite/ready.go (buildOrderByClause),
// generalized here to the spec §4.3 claim-eligibility predicate:
// sqlstore.ClaimTasks uses this after its SQL candidate scan, since
// required_programs lives in a JSON column neither backend can filter
// on directly.
package queue

// ProgramsSatisfy reports whether a manager advertising have can run a
// task requiring required: every required program must be present, and
// an empty required version accepts any advertised version.
func ProgramsSatisfy(have map[string]string, required map[string]string) bool {
	for prog, wantVersion := range required {
		gotVersion, ok := have[prog]
		if !ok {
			return false
		}
		if wantVersion != "" && wantVersion != gotVersion {
			return false
		}
	}
	return true
}
