// Package identity derives the deterministic identifiers that make batch
// planning idempotent: the same product, variant, algorithm and ordered
// image set always hash to the same job id, across processes and runs.
// Neither function consults a clock or a random source.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// JobIDLen is the length of the public job identifier: a 12-hex-char SHA1
// prefix, used in paths, markers and log lines.
const JobIDLen = 12

// ImageSetHash returns the hex SHA1 of the ordered image path list joined
// with newlines. Order matters: the planner's selection order is part of
// the job identity.
func ImageSetHash(paths []string) string {
	sum := sha1.Sum([]byte(strings.Join(paths, "\n")))
	return hex.EncodeToString(sum[:])
}

// JobID returns the stable job identifier for a (product, variant, algo,
// image set) tuple: the first 12 hex chars of the SHA1 of the fields joined
// with "|".
func JobID(productID, variant, algo, imageSetHash string) string {
	sum := sha1.Sum([]byte(strings.Join([]string{productID, variant, algo, imageSetHash}, "|")))
	return hex.EncodeToString(sum[:])[:JobIDLen]
}
