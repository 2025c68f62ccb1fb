package envelope

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainBlob is the domain prefix for blob digests.
// The version suffix allows a future algorithm change.
const DomainBlob = "ledgerkv/blob/v1"

// Digest returns the hex SHA-256 of a blob with domain separation.
// Format: SHA256(domain + 0x00 + data).
func Digest(data []byte) string {
	h := sha256.New()
	h.Write([]byte(DomainBlob))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
