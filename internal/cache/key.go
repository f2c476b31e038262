package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint computes the deterministic cache key for a query and its
// bound parameters. The query text is normalized (lowercased, whitespace
// collapsed) before hashing, so queries differing only in case or layout
// share a key. Parameters are folded in positionally.
func Fingerprint(sqlText string, params []interface{}) string {
	h := sha256.New()
	h.Write([]byte(Normalize(sqlText)))
	for _, p := range params {
		h.Write([]byte{0})
		fmt.Fprintf(h, "%T:%v", p, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize lowercases the query and collapses runs of whitespace to a
// single space. Quoted literals are folded along with everything else.
func Normalize(sqlText string) string {
	return strings.ToLower(strings.Join(strings.Fields(sqlText), " "))
}
