// Package roomname makes up memorable room names.
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var lists = [][]string{moods, colours, animals, things}

// Generate returns a name like "cozy-teal-otter-lantern". One word is taken
// from each list, in order.
func Generate() string {
	words := make([]string, len(lists))
	for i, list := range lists {
		words[i] = list[randomIndex(len(list))]
	}
	return strings.Join(words, "-")
}

// randomIndex returns a cryptographically secure index below max.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("roomname: random source failed: " + err.Error())
	}
	return int(n.Int64())
}
