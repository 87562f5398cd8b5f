package quota

// Bucket is the token-bucket primitive. It is a plain value with no
// locking of its own; the owning Counter serializes all access.
type Bucket struct {
	Max    int64 `json:"max"`
	Tokens int64 `json:"tokens"`
	Active bool  `json:"active"`
}

// Take attempts to consume one token. It marks the bucket active even
// when the take fails or peeks, so the next refill is computed from
// elapsed time instead of granted in full. With peek set the token
// count is left untouched; peeking only tests for exhaustion.
func (b *Bucket) Take(peek bool) bool {
	b.Active = true
	if b.Tokens <= 0 {
		return false
	}
	if !peek {
		b.Tokens--
	}
	return true
}

// Fill adds min(Max-Tokens, n) tokens. When Tokens exceeds Max after a
// capacity shrink, the delta is negative and the fill clamps the count
// back down to Max. Negative n is a programming error.
func (b *Bucket) Fill(n int64) {
	if n < 0 {
		panic("quota: negative fill amount")
	}
	delta := b.Max - b.Tokens
	if n < delta {
		delta = n
	}
	b.Tokens += delta
}

// SetCapacity replaces the capacity. Tokens above the new capacity are
// left in place until the next Fill clamps them; a shrinking quota
// never retroactively confiscates tokens.
func (b *Bucket) SetCapacity(max int64) {
	b.Max = max
}
