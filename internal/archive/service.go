// Package archive keeps a git history of generated quote documents, one
// repository per customer account. Every archived quote is a commit, so the
// full quoting history of a site survives CRM-side edits.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Entry is one archived quote.
type Entry struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// ArchiveQuote commits the rendered quote document into the account's
// repository, creating the repository on first use. Returns the short
// commit hash.
func (s *Service) ArchiveQuote(accountName, portalKey, html string) (string, error) {
	lock := s.accountLock(accountName)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(accountName)
	if err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.MkdirAll(filepath.Join(root, "quotes"), 0o755); err != nil {
		return "", fmt.Errorf("create quotes dir: %w", err)
	}
	relPath := filepath.Join("quotes", sanitizeName(portalKey)+".html")
	if err := os.WriteFile(filepath.Join(root, relPath), []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("write quote document: %w", err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		return "", fmt.Errorf("git add quote document: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Archive quote %s", portalKey), &git.CommitOptions{
		Author: signature(),
	})
	if err != nil {
		return "", fmt.Errorf("commit quote document: %w", err)
	}
	return hash.String()[:7], nil
}

// History returns the most recent archive entries for an account, newest
// first.
func (s *Service) History(accountName string, limit int) ([]Entry, error) {
	lock := s.accountLock(accountName)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(accountName))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Entry{}, nil
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		entries = append(entries, Entry{
			Hash:      commitObj.Hash.String()[:7],
			Message:   commitObj.Message,
			CreatedAt: commitObj.Author.When,
		})
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return entries, nil
}

func (s *Service) ensureRepo(accountName string) (*git.Repository, error) {
	path := s.repoPath(accountName)
	if _, err := os.Stat(path); err == nil {
		repo, openErr := git.PlainOpen(path)
		if openErr != nil {
			return nil, fmt.Errorf("open repo: %w", openErr)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("# Quote archive: %s\n", accountName)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return nil, fmt.Errorf("write readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return nil, fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize quote archive", &git.CommitOptions{
		Author: signature(),
	})
	if err != nil {
		return nil, fmt.Errorf("commit readme: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return nil, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(accountName string) string {
	return filepath.Join(s.baseDir, sanitizeName(accountName))
}

func (s *Service) accountLock(accountName string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[accountName]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[accountName] = lock
	return lock
}

func signature() *object.Signature {
	return &object.Signature{
		Name:  "CRM Bridge",
		Email: "crmbridge@localhost",
		When:  time.Now(),
	}
}

// sanitizeName maps an account name or portal key to a filesystem-safe
// directory or file name.
func sanitizeName(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == '-' || r == '_' || r == '.':
			out = append(out, r)
		case r == ' ' || r == '@':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "account"
	}
	return string(out)
}
