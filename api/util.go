package api

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"sessionscan/scanner"
)

// normalizeRanges parses every range and returns their canonical forms and
// the total number of hosts they cover, rejecting totals above maxHosts.
func normalizeRanges(inputs []string, maxHosts int64) ([]string, *big.Int, error) {
	parsed := make([]scanner.NetworkRange, 0, len(inputs))
	ranges := make([]string, 0, len(inputs))
	for _, in := range inputs {
		r, err := scanner.ParseRange(in)
		if err != nil {
			return nil, nil, err
		}
		parsed = append(parsed, r)
		ranges = append(ranges, r.String())
	}
	total, err := scanner.CheckHostLimit(parsed, maxHosts)
	if err != nil {
		return nil, nil, err
	}
	return ranges, total, nil
}

func generateUUID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// Variant bits; version 4 UUID.
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
