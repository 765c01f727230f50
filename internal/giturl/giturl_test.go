package giturl

import "testing"

func TestNormalizeRepo(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"git@github.com:o/r.git", "https://github.com/o/r"},
		{"https://github.com/o/r.git", "https://github.com/o/r"},
		{"https://github.com/o/r/", "https://github.com/o/r"},
		{"  https://gitlab.com/g/p.git  ", "https://gitlab.com/g/p"},
		{"git@gitlab.example.com:group/sub/project.git", "https://gitlab.example.com/group/sub/project"},
		{"ftp://x", ""},
		{"http://github.com/o/r", ""},
		{"git@", ""},
		{"git@host", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeRepo(c.in); got != c.want {
			t.Fatalf("NormalizeRepo(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// Normalization must be idempotent: re-normalizing an already canonical URL
// is a no-op.
func TestNormalizeRepoIdempotent(t *testing.T) {
	inputs := []string{"git@github.com:o/r.git", "https://bitbucket.org/team/repo/", "ftp://x"}
	for _, in := range inputs {
		once := NormalizeRepo(in)
		if twice := NormalizeRepo(once); twice != once {
			t.Fatalf("NormalizeRepo not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := []struct {
		in   string
		want Platform
	}{
		{"https://github.com/o/r", PlatformGitHub},
		{"https://GITHUB.com/o/r", PlatformGitHub},
		{"https://gitlab.example.org/g/p", PlatformGitLab},
		{"https://bitbucket.org/t/r", PlatformBitbucket},
		{"https://git.home.example.org/o/r", PlatformUnknown},
		{"", PlatformUnknown},
	}
	for _, c := range cases {
		if got := DetectPlatform(c.in); got != c.want {
			t.Fatalf("DetectPlatform(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCommitURL(t *testing.T) {
	cases := []struct {
		repo string
		hash string
		want string
	}{
		{"git@github.com:o/r.git", "abc1234", "https://github.com/o/r/commit/abc1234"},
		{"https://gitlab.com/g/p", "abc1234", "https://gitlab.com/g/p/-/commit/abc1234"},
		{"https://bitbucket.org/t/r.git", "abc1234", "https://bitbucket.org/t/r/commits/abc1234"},
		{"https://selfhosted.example.org/o/r", "abc1234", ""},
		{"ftp://x", "abc1234", ""},
		{"https://github.com/o/r", "", ""},
	}
	for _, c := range cases {
		if got := CommitURL(c.repo, c.hash); got != c.want {
			t.Fatalf("CommitURL(%q, %q) = %q, want %q", c.repo, c.hash, got, c.want)
		}
	}
}
