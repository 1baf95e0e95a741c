// Package passwordhash defines the password hashing port.
package passwordhash

// Hasher hashes and verifies passwords. Verify must take roughly the same
// time whether or not the password matches.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}
