// Package giturl normalizes git remote URLs and derives browse URLs for
// commits on known hosting platforms. All functions are pure; unsupported
// or malformed inputs degrade to the empty string rather than erroring.
package giturl

import "strings"

// Platform identifies a git hosting platform with a known commit-browse path.
type Platform string

const (
	PlatformGitHub    Platform = "github"
	PlatformGitLab    Platform = "gitlab"
	PlatformBitbucket Platform = "bitbucket"
	PlatformUnknown   Platform = ""
)

// NormalizeRepo rewrites a repository URL to canonical https form:
// SSH remotes (git@host:path) become https://host/path, trailing ".git"
// and "/" are stripped. Returns "" when the result is not an https URL.
// The function is idempotent on its own output.
func NormalizeRepo(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(u, "git@"); ok {
		host, path, found := strings.Cut(rest, ":")
		if !found || host == "" || path == "" {
			return ""
		}
		u = "https://" + host + "/" + path
	}

	u = strings.TrimSuffix(u, ".git")
	u = strings.TrimSuffix(u, "/")

	if !strings.HasPrefix(u, "https://") {
		return ""
	}
	return u
}

// DetectPlatform identifies the hosting platform by case-insensitive host
// match. Self-hosted forges that advertise none of the known hosts return
// PlatformUnknown.
func DetectPlatform(rawURL string) Platform {
	host := strings.ToLower(hostOf(rawURL))
	switch {
	case strings.Contains(host, "github"):
		return PlatformGitHub
	case strings.Contains(host, "gitlab"):
		return PlatformGitLab
	case strings.Contains(host, "bitbucket"):
		return PlatformBitbucket
	default:
		return PlatformUnknown
	}
}

// CommitURL builds the browse URL for a commit on the repository's platform.
// Returns "" when the repository does not normalize or the platform is
// unsupported (graceful degradation for self-hosted forges).
func CommitURL(repoURL, commitHash string) string {
	repo := NormalizeRepo(repoURL)
	if repo == "" || commitHash == "" {
		return ""
	}
	switch DetectPlatform(repo) {
	case PlatformGitHub:
		return repo + "/commit/" + commitHash
	case PlatformGitLab:
		return repo + "/-/commit/" + commitHash
	case PlatformBitbucket:
		return repo + "/commits/" + commitHash
	default:
		return ""
	}
}

// hostOf extracts the host portion from an https or scp-like URL.
func hostOf(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if rest, ok := strings.CutPrefix(u, "git@"); ok {
		host, _, _ := strings.Cut(rest, ":")
		return host
	}
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	host, _, _ := strings.Cut(u, "/")
	return host
}
