package repopool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sasha-s/go-deadlock"

	"github.com/remotedoc/gateway/auth"
	"github.com/remotedoc/gateway/markdown"
	"github.com/remotedoc/gateway/repository"
)

var (
	ErrExist        = errors.New("repo already exist")
	ErrNotExist     = errors.New("repo does not exist")
	ErrUnauthorized = errors.New("api key cannot access this repository")
)

// DocInfo is one entry of the visible repository list returned by
// ListDocs.
type DocInfo struct {
	RepoName    string `json:"repo_name"`
	Description string `json:"description"`
	SpecURL     string `json:"spec_url"`
}

// RepoPool represents the collection of tracked documentation
// repositories. It owns the repository list, the per repo sync loops and
// the authorized read and list operations.
// A RepoPool is safe for concurrent use by multiple goroutines.
type RepoPool struct {
	ctx        context.Context
	lock       deadlock.RWMutex
	log        *slog.Logger
	binding    *auth.Binding
	repos      []*repository.Repository
	root       string
	maxWorkers int
	commonENVs []string
	started    bool // sync loops have been started
	Stopped    chan bool
}

// New will create the repository pool based on given config.
// Remote repos will not be cloned until either SyncAll() or StartLoop()
// is called.
func New(ctx context.Context, conf Config, binding *auth.Binding, log *slog.Logger, commonENVs []string) (*RepoPool, error) {
	if err := conf.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}
	repoCtx, repoCancel := context.WithCancel(ctx)

	rp := &RepoPool{
		ctx:        repoCtx,
		log:        log,
		binding:    binding,
		root:       conf.Defaults.Root,
		maxWorkers: conf.Defaults.MaxWorkers,
		commonENVs: commonENVs,
		Stopped:    make(chan bool),
	}

	// start shutdown watcher
	go func() {
		defer func() {
			close(rp.Stopped)
		}()

		// wait for shutdown signal
		<-ctx.Done()

		// signal repositories
		repoCancel()

		rp.lock.RLock()
		defer rp.lock.RUnlock()

		for {
			time.Sleep(time.Second)
			// check if any repo sync loop is still running
			var running bool
			for _, repo := range rp.repos {
				if repo.IsRunning() {
					running = true
					break
				}
			}

			if !running {
				return
			}
		}
	}()

	for _, repoConf := range conf.Repositories {
		if err := rp.createRepository(repoConf); err != nil {
			return nil, err
		}
	}

	return rp, nil
}

// createRepository creates the repository object and appends it to the
// pool without syncing it.
func (rp *RepoPool) createRepository(repoConf repository.Config) error {
	if repo := rp.repositoryByIdentity(repoConf.Owner, repoConf.Repo, repoConf.Branch); repo != nil {
		return ErrExist
	}

	rp.lock.Lock()
	defer rp.lock.Unlock()

	repo, err := repository.New(repoConf, rp.commonENVs, rp.log)
	if err != nil {
		return err
	}
	rp.repos = append(rp.repos, repo)

	return nil
}

// AddRepository adds the given repository to the pool, syncs it in the
// foreground and schedules its sync loop. If the identity is already
// tracked the call degrades to UpdateRepository.
func (rp *RepoPool) AddRepository(ctx context.Context, repoConf repository.Config) error {
	if repo := rp.repositoryByIdentity(repoConf.Owner, repoConf.Repo, repoConf.Branch); repo != nil {
		return rp.UpdateRepository(ctx, repoConf.Owner, repoConf.Repo, repoConf.Branch, repoConf)
	}

	if err := rp.createRepository(repoConf); err != nil {
		return err
	}

	repo := rp.repositoryByIdentity(repoConf.Owner, repoConf.Repo, repoConf.Branch)
	if err := repo.Sync(ctx); err != nil {
		return fmt.Errorf("initial repository sync failed err:%w", err)
	}

	rp.startRepoLoop(repo)
	return nil
}

// UpdateRepository applies newConf to the repository tracked as
// (owner, repoName, branch), re-syncs it and reschedules its sync loop.
// newConf may carry a different identity, the old working tree is
// deleted in that case. An unknown identity falls through to
// AddRepository with newConf.
func (rp *RepoPool) UpdateRepository(ctx context.Context, owner, repoName, branch string, newConf repository.Config) error {
	old := rp.repositoryByIdentity(owner, repoName, branch)
	if old == nil {
		rp.log.Warn("repository not tracked, adding it", "repo", owner+"/"+repoName, "branch", branch)
		return rp.AddRepository(ctx, newConf)
	}

	old.StopLoop()

	repo, err := repository.New(newConf, rp.commonENVs, rp.log)
	if err != nil {
		return err
	}

	rp.lock.Lock()
	for i, r := range rp.repos {
		if r == old {
			rp.repos[i] = repo
			break
		}
	}
	rp.lock.Unlock()

	// an identity or root change moves the working directory, drop the
	// old checkout
	if repo.Directory() != old.Directory() {
		if err := old.RemoveAll(); err != nil {
			rp.log.Error("unable to remove old working directory", "dir", old.Directory(), "err", err)
		}
	}

	if err := repo.Sync(ctx); err != nil {
		return fmt.Errorf("repository sync failed err:%w", err)
	}

	rp.startRepoLoop(repo)
	return nil
}

// RemoveRepository stops the repository's sync loop, removes it from the
// pool and deletes its working directory. Empty owner/repo parent dirs
// are removed as well, parents holding other branches are kept.
func (rp *RepoPool) RemoveRepository(owner, repoName, branch string) error {
	repo := rp.repositoryByIdentity(owner, repoName, branch)
	if repo == nil {
		return ErrNotExist
	}

	rp.log.Info("removing repository", "repo", owner+"/"+repoName, "branch", branch)

	repo.StopLoop()

	rp.lock.Lock()
	for i, r := range rp.repos {
		if r == repo {
			rp.repos = slices.Delete(rp.repos, i, i+1)
			break
		}
	}
	rp.lock.Unlock()

	return repo.RemoveAll()
}

// SyncAll syncs every repository in the pool, up to maxWorkers of them
// in parallel. A failing repository does not stop the others, all
// failures are aggregated into the returned error.
func (rp *RepoPool) SyncAll(ctx context.Context) error {
	rp.lock.RLock()
	repos := slices.Clone(rp.repos)
	rp.lock.RUnlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	sem := make(chan struct{}, rp.maxWorkers)

	for _, repo := range repos {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := repo.Sync(ctx); err != nil {
				rp.log.Error("repository sync failed", "repo", repo.Owner()+"/"+repo.Name(), "err", err)
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return result.ErrorOrNil()
}

// StartLoop will start the sync loop on all repositories with a sync
// interval if its not already started
func (rp *RepoPool) StartLoop() {
	rp.lock.Lock()
	rp.started = true
	repos := slices.Clone(rp.repos)
	rp.lock.Unlock()

	for _, repo := range repos {
		rp.startRepoLoop(repo)
	}
}

func (rp *RepoPool) startRepoLoop(repo *repository.Repository) {
	rp.lock.RLock()
	started := rp.started
	rp.lock.RUnlock()

	if started && !repo.IsRunning() && repo.Interval() != 0 {
		go repo.StartLoop(rp.ctx)
	}
}

// QueueSync requests an out of band sync of the given repository, used
// by the webhook listener. The sync runs on the repo's loop when one is
// running and in a fresh goroutine otherwise.
func (rp *RepoPool) QueueSync(owner, repoName, branch string) error {
	repo := rp.repositoryByIdentity(owner, repoName, branch)
	if repo == nil {
		return ErrNotExist
	}

	if repo.IsRunning() {
		repo.EnqueueSync()
		return nil
	}

	go func() {
		if err := repo.Sync(rp.ctx); err != nil {
			rp.log.Error("queued repository sync failed", "repo", owner+"/"+repoName, "err", err)
		}
	}()
	return nil
}

// ReadDoc reads the document at the given cache path
// (<owner>/<repo>/<branch>/<rest>) for the given API key and returns its
// content with relative links rewritten to remotedoc URLs.
//
// The repository is looked up by name alone, a mismatching owner or
// branch in the path is logged and the tracked repository served.
func (rp *RepoPool) ReadDoc(ctx context.Context, path, apiKey string) (string, error) {
	parts := strings.SplitN(strings.Trim(path, "/"), "/", 4)
	if len(parts) != 4 || parts[3] == "" {
		return "", fmt.Errorf("%w: path %q must be owner/repo/branch/file", repository.ErrNotFound, path)
	}
	owner, repoName, branch, rest := parts[0], parts[1], parts[2], parts[3]

	repo := rp.repositoryByName(repoName)
	if repo == nil {
		return "", fmt.Errorf("%w: %s", ErrNotExist, repoName)
	}

	if repo.Owner() != owner || repo.Branch() != branch {
		rp.log.Warn("requested identity differs from tracked repository",
			"requested", owner+"/"+repoName+"@"+branch,
			"tracked", repo.Owner()+"/"+repo.Name()+"@"+repo.Branch())
	}

	if !rp.binding.CanAccess(ctx, apiKey, repo.Owner(), repo.Name(), repo.Branch()) {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, repo.Name())
	}

	// first read of a repository that has never synced, outside the
	// read lock
	if !repo.WorkTreeExists() {
		if err := repo.Sync(ctx); err != nil {
			return "", fmt.Errorf("unable to sync repo on read err:%w", err)
		}
	}

	content, err := repo.ReadFile(ctx, rest)
	if err != nil {
		return "", err
	}

	return markdown.RewriteRelativeLinks(content, repo.Owner(), repo.Name(), repo.Branch(), rest), nil
}

// ListDocs returns one entry per tracked repository visible to the given
// API key. An unknown key errors with auth.ErrInvalidKey.
func (rp *RepoPool) ListDocs(ctx context.Context, apiKey string) ([]DocInfo, error) {
	refs, err := rp.binding.AccessibleRepositories(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	rp.lock.RLock()
	defer rp.lock.RUnlock()

	docs := []DocInfo{}
	for _, repo := range rp.repos {
		for _, ref := range refs {
			if ref.Owner == repo.Owner() && ref.Repo == repo.Name() && ref.Branch == repo.Branch() {
				docs = append(docs, DocInfo{
					RepoName:    repo.Name(),
					Description: repo.Description(),
					SpecURL:     repo.SpecURL(),
				})
				break
			}
		}
	}

	return docs, nil
}

// RepositoriesDirPath returns local paths of all the tracked repositories
func (rp *RepoPool) RepositoriesDirPath() []string {
	rp.lock.RLock()
	defer rp.lock.RUnlock()

	var paths []string
	for _, repo := range rp.repos {
		paths = append(paths, repo.Directory())
	}
	return paths
}

// repositoryByIdentity returns the tracked repository matching the full
// (owner, repo, branch) identity.
func (rp *RepoPool) repositoryByIdentity(owner, repoName, branch string) *repository.Repository {
	rp.lock.RLock()
	defer rp.lock.RUnlock()

	for _, repo := range rp.repos {
		if repo.Owner() == owner && repo.Name() == repoName && repo.Branch() == branch {
			return repo
		}
	}
	return nil
}

// repositoryByName returns the first tracked repository with the given
// name.
func (rp *RepoPool) repositoryByName(repoName string) *repository.Repository {
	rp.lock.RLock()
	defer rp.lock.RUnlock()

	for _, repo := range rp.repos {
		if repo.Name() == repoName {
			return repo
		}
	}
	return nil
}
