package autofix

import (
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/lucasnoah/mergegate/internal/ci"
)

// Fingerprint identifies "the same fix": one category, one strategy, one set
// of files. File order does not matter.
func Fingerprint(cat ci.Category, strategy string, files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	h := blake3.New()
	h.Write([]byte(cat))
	h.Write([]byte{0})
	h.Write([]byte(strategy))
	for _, f := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// circular reports whether fp already failed re-CI at least twice.
func circular(history []ci.FixAttempt, fp string) bool {
	n := 0
	for _, a := range history {
		if a.Fingerprint == fp && a.Outcome == ci.FixOutcomeReCIFailed {
			n++
		}
	}
	return n >= 2
}
