// Package random generates short random identifiers.
package random

import "math/rand"

var (
	numSeq      [10]rune
	upperSeq    [26]rune
	numUpperSeq [36]rune
)

func init() {
	for i := 0; i < 10; i++ {
		numSeq[i] = rune('0' + i)
	}
	for i := 0; i < 26; i++ {
		upperSeq[i] = rune('A' + i)
	}
	copy(numUpperSeq[:], numSeq[:])
	copy(numUpperSeq[10:], upperSeq[:])
}

// Seq returns a random upper-case alphanumeric string of length n.
func Seq(n int) string {
	runes := make([]rune, n)
	for i := 0; i < n; i++ {
		runes[i] = numUpperSeq[rand.Intn(len(numUpperSeq))]
	}
	return string(runes)
}
