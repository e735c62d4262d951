// Package ratelimit paces calls to the Rescale v3 API so the client stays
// under the platform's throttle.
package ratelimit

import "time"

// Every endpoint this client calls (files, folders, users/me, download
// URLs) falls in the v3 "user" throttle scope, which allows 7200 calls an
// hour. The bucket refills at 85% of that and can absorb a burst of about
// 90 seconds, enough for a large listing followed by a batch enqueue.
const (
	UserScopeLimitPerHour  = 7200
	UserScopeRatePerSec    = 1.7
	UserScopeBurstCapacity = 150
)

const (
	// WarnAfterWait is the projected wait that gets logged as throttling.
	WarnAfterWait = 2 * time.Second
	// NotifyMinInterval spaces those warnings out.
	NotifyMinInterval = 10 * time.Second

	// DefaultCooldown follows a 429 without a usable Retry-After.
	DefaultCooldown = 30 * time.Second
	// MaxCooldown caps Retry-After.
	MaxCooldown = 5 * time.Minute
)
