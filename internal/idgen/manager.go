// Package idgen synthesizes human-legible identifiers. Grounded on the
// teacher's internal/idgen package: short, deterministic, non-hashed
// identifiers built by joining stable parts, kept legible in logs
// (internal/idgen/semantic.go favors a readable slug over an opaque
// hash for anything a human will see repeatedly).
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ManagerName joins the (cluster, hostname, uuid) triplet into the
// wire-visible manager name of spec §3/§6. Unlike content hashes, this
// is deliberately NOT a hash — it must stay legible to an operator
// reading manager logs or dashboards.
func ManagerName(cluster, hostname, uuidStr string) string {
	return fmt.Sprintf("%s-%s-%s", cluster, hostname, uuidStr)
}

// SplitManagerName reverses ManagerName for the (rare) case a caller
// needs to recover the triplet from a stored name. Manager names are
// stored as a single string; this is purely a display/debugging
// convenience and is tolerant of hostnames containing hyphens by
// assuming the trailing segment is always the uuid leg.
func SplitManagerName(name string) (cluster, hostname, uuid string, ok bool) {
	parts := strings.Split(name, "-")
	if len(parts) < 3 {
		return "", "", "", false
	}
	cluster = parts[0]
	uuid = parts[len(parts)-1]
	hostname = strings.Join(parts[1:len(parts)-1], "-")
	return cluster, hostname, uuid, true
}

// NewUUID generates a random identifier for the uuid leg of a manager's
// activation triplet, used by the reference manager CLI driver
// (cmd/qcfractal-server manager) when the operator doesn't supply one.
func NewUUID() string {
	return uuid.NewString()
}
