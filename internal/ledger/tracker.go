package ledger

import "math/bits"

const trackerWords = (1 << 16) / 64

// ClientTracker is a fixed-size presence set over the full u16 client id space.
// The zero value is empty and ready to use; it never allocates.
type ClientTracker struct {
	words [trackerWords]uint64
	count int
}

// MarkSeen records the client id.
func (t *ClientTracker) MarkSeen(client uint16) {
	w, b := client>>6, client&63
	mask := uint64(1) << b
	if t.words[w]&mask == 0 {
		t.words[w] |= mask
		t.count++
	}
}

// IsSeen reports whether the client id was marked.
func (t *ClientTracker) IsSeen(client uint16) bool {
	return t.words[client>>6]&(uint64(1)<<(client&63)) != 0
}

// Len returns the number of marked ids.
func (t *ClientTracker) Len() int { return t.count }

// Each calls fn for every marked id in ascending order.
func (t *ClientTracker) Each(fn func(client uint16)) {
	for w, word := range t.words {
		for word != 0 {
			b := bits.TrailingZeros64(word)
			fn(uint16(w<<6 | b))
			word &= word - 1
		}
	}
}
