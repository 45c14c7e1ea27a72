package github

import (
	synced "github.com/goliatone/go-synced"
)

// RepoIssues is the live issue mirror of one repository.
type RepoIssues struct {
	Issues *synced.SyncedCollection[Issue]
	Page   *synced.Node[int]
}

// RepoLabels is the live label mirror of one repository with a sorted
// view by name.
type RepoLabels struct {
	Labels *synced.SyncedCollection[Label]
	Page   *synced.Node[int]
	Sorted *synced.Derived[[]Label]
}

// RepoAssignees is the live assignee mirror of one repository with a
// sorted view by login.
type RepoAssignees struct {
	Assignees *synced.SyncedCollection[User]
	Page      *synced.Node[int]
	Sorted    *synced.Derived[[]User]
}

// NewProfile mirrors the authenticated user's profile.
func NewProfile(c *Client) (*synced.Synced[UserDetails], error) {
	return NewGet(c, Profile(), UserDetails{})
}

// NewRepoIssues mirrors the issues of repo starting at page 1.
func NewRepoIssues(c *Client, repo RepoName) (*RepoIssues, error) {
	page := synced.NewNode(1)
	issues, err := NewList(c, Issues(repo, page.Get), page)
	if err != nil {
		return nil, err
	}
	return &RepoIssues{Issues: issues, Page: page}, nil
}

// NewRepoLabels mirrors the labels of repo.
func NewRepoLabels(c *Client, repo RepoName) (*RepoLabels, error) {
	page := synced.NewNode(1)
	labels, err := NewList(c, Labels(repo, page.Get), page)
	if err != nil {
		return nil, err
	}
	return &RepoLabels{
		Labels: labels,
		Page:   page,
		Sorted: synced.NewSortedView[Label](labels, "name"),
	}, nil
}

// NewRepoAssignees mirrors the assignees of repo.
func NewRepoAssignees(c *Client, repo RepoName) (*RepoAssignees, error) {
	page := synced.NewNode(1)
	assignees, err := NewList(c, Assignees(repo, page.Get), page)
	if err != nil {
		return nil, err
	}
	return &RepoAssignees{
		Assignees: assignees,
		Page:      page,
		Sorted:    synced.NewSortedView[User](assignees, "login"),
	}, nil
}
