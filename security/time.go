package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for token and
	// ticket expiration checks. It prevents false expiration errors due to
	// time synchronization drift between the systems that mint security
	// tokens (resource servers, upstream issuers) and this server.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if a timestamp is past with the default clock skew grace
// period. A zero timestamp never expires.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if a timestamp is past with a custom clock
// skew grace period.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false // no expiration
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
