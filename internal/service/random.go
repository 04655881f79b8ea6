package service

import "crypto/rand"

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomKey generates an n-character organization key. Collisions are left
// for the caller's unique constraint to catch; organizations are created
// rarely enough that a retry loop isn't worth the complexity.
func randomKey(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i, c := range b {
		b[i] = keyAlphabet[int(c)%len(keyAlphabet)]
	}
	return string(b)
}
