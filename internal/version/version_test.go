package version

import "testing"

func TestUserAgent(t *testing.T) {
	defer func(v, c string) { Version, Commit = v, c }(Version, Commit)

	Version, Commit = "dev", "unknown"
	if got := UserAgent(); got != "exaroton-go/dev" {
		t.Errorf("UserAgent() = %q, want exaroton-go/dev", got)
	}

	Version, Commit = "1.2.0", "abc123"
	if got := UserAgent(); got != "exaroton-go/1.2.0 (abc123)" {
		t.Errorf("UserAgent() = %q, want exaroton-go/1.2.0 (abc123)", got)
	}
}
