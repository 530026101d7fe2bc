package security

import "crypto/subtle"

// TokenEqual compares a presented token with the stored one in constant time.
// Empty values never match.
func TokenEqual(presented, stored string) bool {
	if presented == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
