package idempotency

import "fmt"

// Key builds the canonical idempotency key for one delivery. Two webhooks are
// retry-equivalent iff every component matches.
func Key(deliveryID, owner, repo string, prNumber int, action, headCommitID string) string {
	return fmt.Sprintf("%s|%s/%s|%d|%s|%s", deliveryID, owner, repo, prNumber, action, headCommitID)
}
