package engine

import (
	"sort"
	"unicode"

	"github.com/unidrive/core/pkg/types"
)

// sortEntries orders a listing the way spec §4.4.1 step 5 requires:
// directories before files (when dirsFirst), then case-insensitive natural
// order, so a name like "file9" sorts before "file10". This is the engine's
// own ordering, applied uniformly regardless of what order a driver
// returned its entries in.
func sortEntries(entries []types.Entry, dirsFirst bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if dirsFirst && a.IsDir != b.IsDir {
			return a.IsDir
		}
		return naturalLess(a.Name, b.Name)
	})
}

// naturalLess compares two names case-insensitively, treating maximal runs
// of digits as numbers rather than as sequences of characters, so "img2"
// sorts before "img10".
func naturalLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		ca, cb := ra[i], rb[j]
		if isDigit(ca) && isDigit(cb) {
			ni, na := scanNumber(ra, i)
			nj, nb := scanNumber(rb, j)
			if na != nb {
				return na < nb
			}
			i, j = ni, nj
			continue
		}
		la, lb := unicode.ToLower(ca), unicode.ToLower(cb)
		if la != lb {
			return la < lb
		}
		i++
		j++
	}
	return len(ra)-i < len(rb)-j
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// scanNumber reads the maximal run of digits starting at i and returns the
// index just past it plus its numeric value. Runs long enough to overflow
// int64 saturate rather than wrap, which only matters for pathological
// names and still sorts consistently.
func scanNumber(rs []rune, i int) (int, int64) {
	start := i
	for i < len(rs) && isDigit(rs[i]) {
		i++
	}
	var n int64
	for _, r := range rs[start:i] {
		if n > (1<<62)/10 {
			n = 1 << 62
			continue
		}
		n = n*10 + int64(r-'0')
	}
	return i, n
}
