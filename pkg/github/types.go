package github

import (
	"fmt"
	"strings"
)

// User is the projected shape of a GitHub user reference.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UserDetails is the authenticated user's profile.
type UserDetails struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	PublicRepos int    `json:"public_repos,omitempty"`
}

// Label is a repository label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Issue is the projected shape of a repository issue. Repo is stamped on
// load so cached issues from several repositories stay distinguishable.
type Issue struct {
	ID        int64   `json:"id"`
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	State     string  `json:"state"`
	CreatedAt string  `json:"created_at,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
	Body      string  `json:"body,omitempty"`
	User      User    `json:"user"`
	Comments  int     `json:"comments"`
	Labels    []Label `json:"labels,omitempty"`
	Assignees []User  `json:"assignees,omitempty"`
	Repo      string  `json:"repo,omitempty"`
}

// RepoName is an "owner/repo" pair.
type RepoName string

// ParseRepo validates an "owner/repo" string.
func ParseRepo(value string) (RepoName, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", fmt.Errorf("github: invalid repository %q, want owner/repo", value)
	}
	return RepoName(owner + "/" + repo), nil
}

// Owner returns the owner part.
func (r RepoName) Owner() string {
	owner, _, _ := strings.Cut(string(r), "/")
	return owner
}

// Name returns the repository part.
func (r RepoName) Name() string {
	_, name, _ := strings.Cut(string(r), "/")
	return name
}

func (r RepoName) pathParams() map[string]string {
	return map[string]string{"owner": r.Owner(), "repo": r.Name()}
}
