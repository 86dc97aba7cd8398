// Package status enforces the monotonic delivery-status ladder for canonical
// messages: sent < delivered < read, with failed as a terminal side state.
package status

import "github.com/Ramsey-B/aster/pkg/models"

// Allowed reports whether a message may move from current to candidate.
// Externally-driven status updates (delivery and read receipts) must consult
// this before writing; internally-driven creation transitions bypass it.
//
// Rules:
//   - read is terminal: nothing moves a message off read.
//   - delivered never downgrades to sent.
//   - everything else, including same-state no-ops, is allowed.
func Allowed(current, candidate models.Status) bool {
	if current == models.StatusRead {
		return false
	}
	if current == models.StatusDelivered && candidate == models.StatusSent {
		return false
	}
	return true
}
