// Package hashutil computes the canonical structural hashes that back
// content-addressed dedup for molecules, keyword sets, and
// specifications (spec §3, §4.1). Grounded on the teacher's
// internal/idgen/hash.go: a stable sha256 digest, hex-encoded rather
// than base36 (this module's hashes are internal dedup keys, not
// user-facing short ids, so information density is not a concern).
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// FloatTolerance is the rounding tolerance applied to floating-point
// keyword/geometry values before hashing (spec §4.1: "document the
// tolerance"). It is an absolute step: values are rounded to 8 decimal
// places, whatever their magnitude.
const FloatTolerance = 1e-8

// RoundFloat rounds v to FloatTolerance so that numerically-identical
// inputs that differ only in floating point noise hash identically.
func RoundFloat(v float64) float64 {
	if v == 0 {
		return 0
	}
	scale := 1 / FloatTolerance
	return math.Round(v*scale) / scale
}

// NormalizeString lowercases and trims whitespace, per spec §4.1's
// normalization rule for program/method/basis/tag/keyword names.
func NormalizeString(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// NormalizeBasis applies the spec §3 rule that an empty-string basis
// normalizes to nil before hashing and storage.
func NormalizeBasis(basis string) *string {
	n := NormalizeString(basis)
	if n == "" {
		return nil
	}
	return &n
}

// Hash computes the canonical SHA-256 hash (hex-encoded) of a
// JSON-marshalable canonical form. Callers are responsible for
// normalizing strings/floats and sorting any unordered collections
// before calling this — Hash itself only guarantees stable key
// ordering for maps, since encoding/json already sorts map keys.
func Hash(canonical interface{}) (string, error) {
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("hashutil: canonicalize: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SortedKeywordValues rounds every float64 leaf value and returns a
// stably-ordered map (sorted keys are implicit in encoding/json's map
// marshaling, this function only needs to walk the tree to apply
// rounding before Hash is called).
func SortedKeywordValues(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[NormalizeString(k)] = roundLeaf(v)
	}
	return out
}

func roundLeaf(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return RoundFloat(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = roundLeaf(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[NormalizeString(k)] = roundLeaf(e)
		}
		return out
	default:
		return v
	}
}

// SortedKeys returns the sorted keys of a map[string]interface{},
// useful when a caller needs deterministic iteration order outside of
// JSON marshaling (e.g. building a canonical log line).
func SortedKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
