package model

import "fmt"

// DefaultBranch is used when a configured target omits its branch.
const DefaultBranch = "main"

// RepositoryTarget identifies one monitored repository branch and where its
// announcements go.
type RepositoryTarget struct {
	Owner     string
	Name      string
	Branch    string
	ChannelID string // Empty means the settings' default channel.
}

// Slug returns the owner/name@branch key used for watermark lookups.
func (t RepositoryTarget) Slug() string {
	return fmt.Sprintf("%s/%s@%s", t.Owner, t.Name, t.Branch)
}

// FullName returns the owner/name form used by the GitHub API.
func (t RepositoryTarget) FullName() string {
	return t.Owner + "/" + t.Name
}
