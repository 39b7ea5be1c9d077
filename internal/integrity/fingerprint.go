// Package integrity fingerprints user records and obfuscates them for storage.
//
// Nothing in this package provides confidentiality or authenticity. The fingerprint is a
// corruption smoke test and the obfuscator only deters casual edits of stored blobs; neither
// may be used for access control.
package integrity

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/fineu/fineu-core/internal/domain"
)

var (
	// ErrIntegrityMismatch indicates a stored record whose fingerprint no longer matches its fields.
	ErrIntegrityMismatch = errors.New("record fingerprint mismatch")
	// ErrCorruptedBlob indicates a stored blob that cannot be revealed or decoded.
	ErrCorruptedBlob = errors.New("corrupted record blob")
)

// Fingerprint hashes the serialized record, excluding its stored checksum.
func Fingerprint(rec domain.UserRecord) string {
	rec.Checksum = ""

	payload, err := json.Marshal(rec)
	if err != nil {
		// Records hold only JSON-safe values; a failure here means NaN/Inf crept in.
		return ""
	}

	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// Verify reports whether rec carries the fingerprint of its current fields.
func Verify(rec domain.UserRecord) bool {
	if rec.Checksum == "" {
		return false
	}
	return rec.Checksum == Fingerprint(rec)
}

// Seal returns a copy of rec with a freshly computed fingerprint attached.
func Seal(rec domain.UserRecord) domain.UserRecord {
	sealed := rec.Clone()
	sealed.Checksum = Fingerprint(sealed)
	return sealed
}
