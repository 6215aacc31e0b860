// Package hosting holds the repository-hosting collaborators the pipeline
// consumes: the event context extracted from a webhook, the diff fetcher, and
// the comment publisher. The REST implementation targets the common
// GitHub-style API surface; tests and chaos runs substitute fakes.
package hosting

import "context"

// EventContext identifies the pull request one execution works on.
// Immutable for the lifetime of the execution.
type EventContext struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	PRNumber       int    `json:"pr_number"`
	InstallationID int64  `json:"installation_id"`
	HeadCommitID   string `json:"head_commit_id"`
}

// FullName returns owner/repo.
func (e EventContext) FullName() string { return e.Owner + "/" + e.Repo }

// WebhookEvent is one admitted delivery.
type WebhookEvent struct {
	DeliveryID string       `json:"delivery_id"`
	Action     string       `json:"action"`
	Event      EventContext `json:"event"`
}

// DiffFile is one changed file in a pull request.
type DiffFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// Changes returns the total changed lines in the file.
func (f DiffFile) Changes() int { return f.Additions + f.Deletions }

// DiffFetcher retrieves the changed files for a pull request.
type DiffFetcher interface {
	FetchDiff(ctx context.Context, ev EventContext) ([]DiffFile, error)
}

// CommentPublisher posts a review comment on a pull request.
type CommentPublisher interface {
	PublishComment(ctx context.Context, ev EventContext, body string) error
}
