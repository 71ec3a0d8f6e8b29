package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	git "github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	githttp "github.com/go-git/go-git/v6/plumbing/transport/http"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/dispatch"
	"github.com/toolgate/toolgate/internal/gate"
	"github.com/toolgate/toolgate/internal/log"
)

// maxLogEntries caps git_log output.
const maxLogEntries = 100

// GitToolset implements repository operations on sandboxed worktrees.
// Remote operations authenticate with the configured token over HTTPS;
// without a token they run anonymously.
type GitToolset struct {
	cfg    config.GitConfig
	logger log.Logger
}

// NewGitToolset creates the git toolset.
func NewGitToolset(cfg config.GitConfig, logger log.Logger) *GitToolset {
	return &GitToolset{cfg: cfg, logger: logger}
}

type gitStatusInput struct {
	Path string `json:"path"`
}

type gitLogInput struct {
	Path  string `json:"path"`
	Limit int    `json:"limit,omitempty"`
}

type gitCommitInput struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	All     bool   `json:"all,omitempty"`
}

type gitPullInput struct {
	Path   string `json:"path"`
	Remote string `json:"remote,omitempty"`
}

type gitPushInput struct {
	Path   string `json:"path"`
	Remote string `json:"remote,omitempty"`
}

type commitSummary struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	When    time.Time `json:"when"`
	Subject string    `json:"subject"`
}

// Register adds the git tools.
func (t *GitToolset) Register(reg *dispatch.Registry) error {
	repoPath := gate.Policy{PathFields: []string{"path"}}

	if err := add(reg, "git_status",
		"Report branch and working tree status of a sandboxed repository.",
		repoPath, t.gitStatus); err != nil {
		return err
	}
	if err := add(reg, "git_log",
		"List recent commits of a sandboxed repository.",
		repoPath, t.gitLog); err != nil {
		return err
	}
	if err := add(reg, "git_commit",
		"Create a commit in a sandboxed repository.",
		repoPath, t.gitCommit); err != nil {
		return err
	}
	if err := add(reg, "git_pull",
		"Pull the current branch from a remote.",
		repoPath, t.gitPull); err != nil {
		return err
	}
	return add(reg, "git_push",
		"Push the current branch to a remote.",
		repoPath, t.gitPush)
}

func (t *GitToolset) gitStatus(_ context.Context, in gitStatusInput) (any, error) {
	repo, err := openRepo(in.Path)
	if err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "repository has no worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "reading status failed", err)
	}

	branch := "detached"
	if head, err := repo.Head(); err == nil {
		branch = head.Name().Short()
	}

	changes := make(map[string]string, len(status))
	for file, st := range status {
		changes[file] = strings.TrimSpace(string(st.Staging) + string(st.Worktree))
	}

	return map[string]any{
		"branch":  branch,
		"clean":   status.IsClean(),
		"changes": changes,
	}, nil
}

func (t *GitToolset) gitLog(_ context.Context, in gitLogInput) (any, error) {
	repo, err := openRepo(in.Path)
	if err != nil {
		return nil, err
	}

	limit := in.Limit
	if limit <= 0 || limit > maxLogEntries {
		limit = 10
	}

	head, err := repo.Head()
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "repository has no commits", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "reading log failed", err)
	}
	defer iter.Close()

	var commits []commitSummary
	for len(commits) < limit {
		c, err := iter.Next()
		if err != nil {
			break // end of history
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, commitSummary{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			When:    c.Author.When,
			Subject: strings.TrimSpace(subject),
		})
	}

	return map[string]any{
		"branch":  head.Name().Short(),
		"commits": commits,
		"count":   len(commits),
	}, nil
}

func (t *GitToolset) gitCommit(_ context.Context, in gitCommitInput) (any, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "commit message is required")
	}

	repo, err := openRepo(in.Path)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "repository has no worktree", err)
	}

	if in.All {
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return nil, dispatch.WrapErr(dispatch.KindDomainError, "staging changes failed", err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "reading status failed", err)
	}
	if status.IsClean() {
		return nil, dispatch.Errorf(dispatch.KindDomainError, "nothing to commit")
	}

	hash, err := wt.Commit(in.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  t.cfg.AuthorName,
			Email: t.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "commit failed", err)
	}

	t.logger.Info("commit created", "hash", hash.String())
	return map[string]any{
		"hash":    hash.String(),
		"message": in.Message,
	}, nil
}

func (t *GitToolset) gitPull(_ context.Context, in gitPullInput) (any, error) {
	repo, err := openRepo(in.Path)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "repository has no worktree", err)
	}

	remote := in.Remote
	if remote == "" {
		remote = "origin"
	}

	err = wt.Pull(&git.PullOptions{
		RemoteName: remote,
		Auth:       t.auth(),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return map[string]any{"remote": remote, "updated": false}, nil
	}
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindNetworkError, "pull failed", err).AsRetryable()
	}
	return map[string]any{"remote": remote, "updated": true}, nil
}

func (t *GitToolset) gitPush(_ context.Context, in gitPushInput) (any, error) {
	repo, err := openRepo(in.Path)
	if err != nil {
		return nil, err
	}

	remote := in.Remote
	if remote == "" {
		remote = "origin"
	}

	err = repo.Push(&git.PushOptions{
		RemoteName: remote,
		Auth:       t.auth(),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return map[string]any{"remote": remote, "updated": false}, nil
	}
	if err != nil {
		return nil, dispatch.WrapErr(dispatch.KindNetworkError, "push failed", err).AsRetryable()
	}
	return map[string]any{"remote": remote, "updated": true}, nil
}

// auth returns token auth for HTTPS remotes, or nil for anonymous
// access. The username is ignored by the common forges. The return
// type is the interface so an absent token yields a true nil.
func (t *GitToolset) auth() transport.AuthMethod {
	if t.cfg.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "token", Password: t.cfg.Token}
}

func openRepo(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, dispatch.Errorf(dispatch.KindDomainError, "not a git repository")
		}
		return nil, dispatch.WrapErr(dispatch.KindDomainError, "opening repository failed", err)
	}
	return repo, nil
}
