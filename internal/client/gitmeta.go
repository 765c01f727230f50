package client

import (
	"time"

	git "github.com/go-git/go-git/v5"
)

// GitContext is the repository metadata captured for a run started inside a
// working tree.
type GitContext struct {
	Repo            string
	Branch          string
	CommitHash      string
	CommitAuthor    string
	CommitTimestamp string
}

// captureGitContext inspects the repository containing dir and returns HEAD
// metadata. Every failure degrades to an empty context: telemetry must never
// fail because the agent runs outside a checkout.
func captureGitContext(dir string) GitContext {
	var gc GitContext

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return gc
	}

	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		gc.Repo = remote.Config().URLs[0]
	}

	head, err := repo.Head()
	if err != nil {
		return gc
	}
	gc.CommitHash = head.Hash().String()
	if head.Name().IsBranch() {
		gc.Branch = head.Name().Short()
	}

	if commit, err := repo.CommitObject(head.Hash()); err == nil {
		gc.CommitAuthor = commit.Author.Name
		gc.CommitTimestamp = commit.Author.When.UTC().Format(time.RFC3339)
	}
	return gc
}
