package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashIP returns the salted SHA-256 fingerprint stored on visitor rows.
// The site id is part of the input so the same address hashes differently
// per tenant. Raw addresses are never persisted. Empty input yields "".
func HashIP(siteID, ipAddress, salt string) string {
	ipAddress = strings.TrimSpace(ipAddress)
	if ipAddress == "" {
		return ""
	}
	data := fmt.Sprintf("%s.%s.%s", salt, siteID, ipAddress)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
