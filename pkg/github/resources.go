package github

import (
	"regexp"
	"strings"

	"github.com/goliatone/go-synced/pkg/remote"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

var issueFields = []string{
	"id",
	"number",
	"title",
	"state",
	"created_at",
	"updated_at",
	"body",
	"user.login",
	"user.avatar_url",
	"comments",
	"labels.name",
	"labels.color",
	"assignees.login",
	"assignees.avatar_url",
}

// Profile describes the authenticated user.
func Profile() *remote.Resource[UserDetails] {
	return remote.NewResource[UserDetails](remote.KindGet, "profile", "/user")
}

// Issues describes the issues of repo, one page at a time.
func Issues(repo RepoName, page func() int) *remote.Resource[Issue] {
	return remote.NewResource[Issue](remote.KindList, "issues:"+string(repo), "/repos/{owner}/{repo}/issues",
		remote.WithPathParams[Issue](repo.pathParams()),
		remote.WithPagination[Issue](page, remote.DefaultPerPage),
		remote.WithPickFields[Issue](issueFields...),
		remote.WithFieldID[Issue]("id"),
		remote.WithTransform[Issue](func(issue Issue) (Issue, error) {
			issue.Repo = string(repo)
			return issue, nil
		}),
		remote.Public[Issue](),
	)
}

// Labels describes the labels of repo, keyed by name.
func Labels(repo RepoName, page func() int) *remote.Resource[Label] {
	return remote.NewResource[Label](remote.KindList, "labels:"+string(repo), "/repos/{owner}/{repo}/labels",
		remote.WithPathParams[Label](repo.pathParams()),
		remote.WithPagination[Label](page, remote.DefaultPerPage),
		remote.WithPickFields[Label]("color", "name"),
		remote.WithFieldID[Label]("name"),
		remote.Public[Label](),
	)
}

// Assignees describes the users issues of repo can be assigned to, keyed
// by login.
func Assignees(repo RepoName, page func() int) *remote.Resource[User] {
	return remote.NewResource[User](remote.KindList, "assignees:"+string(repo), "/repos/{owner}/{repo}/assignees",
		remote.WithPathParams[User](repo.pathParams()),
		remote.WithPagination[User](page, remote.DefaultPerPage),
		remote.WithPickFields[User]("login", "avatar_url"),
		remote.WithFieldID[User]("login"),
		remote.Public[User](),
	)
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// CacheKey turns a resource path into a document name: every
// non-alphanumeric character becomes "_", leading underscores are dropped
// and the result is lowercased.
func CacheKey(path string) string {
	key := nonAlphanumeric.ReplaceAllString(path, "_")
	return strings.ToLower(strings.TrimLeft(key, "_"))
}

// cacheKeyFor derives the document name of res from its expanded path, so
// every page of a list shares one document.
func cacheKeyFor[R any](res *remote.Resource[R]) (string, error) {
	path, err := remote.ExpandPath(res.Path, res.PathParams)
	if err != nil {
		return "", err
	}
	return CacheKey(path), nil
}
