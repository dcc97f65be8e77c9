package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	xssh "golang.org/x/crypto/ssh"
)

type GitSource struct {
	repo     string
	path     string
	branch   string
	auth     transport.AuthMethod
	insecure bool
}

func NewGitSource(path, repo string, c *Config) (*GitSource, error) {
	g := &GitSource{
		repo: repo,
		path: path,
	}
	if c != nil {
		g.branch = c.Branch
		g.insecure = c.Insecure
		if c.PrivateKey != "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			_, err = os.Stat(fmt.Sprintf("%v/.ssh/known_hosts", home))
			if err != nil {
				return nil, err
			}
			_, err = os.Stat(c.PrivateKey)
			if err != nil {
				return nil, err
			}
			publicKeys, err := ssh.NewPublicKeysFromFile("git", c.PrivateKey, "")
			if err != nil {
				return nil, err
			}
			if g.insecure {
				publicKeys.HostKeyCallback = xssh.InsecureIgnoreHostKey()
			}
			g.auth = publicKeys
		} else if c.Username != "" {
			g.auth = &http.BasicAuth{
				Username: c.Username,
				Password: c.Password,
			}
		}
	}
	return g, nil
}

func (g *GitSource) Sync(ctx context.Context) error {
	var options git.CloneOptions
	var pullOptions git.PullOptions

	options.URL = g.repo
	options.Auth = g.auth
	pullOptions.Auth = g.auth
	if g.branch != "" {
		options.ReferenceName = plumbing.NewBranchReferenceName(g.branch)
		options.SingleBranch = true
		pullOptions.ReferenceName = options.ReferenceName
	}
	_, err := git.PlainCloneContext(ctx, g.path, false, &options)
	if err != nil && !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return err
	}
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		r, err := git.PlainOpen(g.path)
		if err != nil {
			return err
		}
		w, err := r.Worktree()
		if err != nil {
			return err
		}
		err = w.PullContext(ctx, &pullOptions)
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return err
		}
	}

	return nil
}

func (g *GitSource) Clean() error {
	return os.RemoveAll(g.path)
}
