package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/remotedoc/gateway/docurl"
	"github.com/remotedoc/gateway/internal/lock"
	"github.com/remotedoc/gateway/internal/utils"
)

var (
	// ErrNotFound is returned by ReadFile when the requested path does
	// not exist in the working directory.
	ErrNotFound = errors.New("doc file not found")

	gitExecutablePath string
)

func init() {
	gitExecutablePath = exec.Command("git").String()
}

// Repository represents the locally cached checkout of one tracked
// (owner, repo, branch) identity.
// A Repository is safe for concurrent use by multiple goroutines, reads
// are served under the read side of the repository lock and syncs run
// under the write side.
type Repository struct {
	lock lock.RWMutex // repository will be write-locked during sync

	owner        string
	repo         string
	branch       string
	rootSpecPath string

	root string // absolute path to the cache root
	dir  string // absolute path to the working directory

	interval   time.Duration
	gitTimeout time.Duration
	auth       *Auth
	envs       []string // envs which will be passed to git commands

	syncing atomic.Bool // short-circuit for redundant sync requests
	running bool        // indicates if repository is running the sync loop

	queue         chan struct{} // webhook triggered sync requests
	stop, stopped chan struct{} // chans to stop sync loop

	descMu      sync.Mutex
	description string

	githubAppToken          string
	githubAppTokenExpiresAt time.Time

	log *slog.Logger
}

// New creates a new repository from the given config.
// The remote repo will not be cloned until either Sync() or StartLoop()
// is called.
func New(conf Config, envs []string, log *slog.Logger) (*Repository, error) {
	if err := conf.ValidateAndApplyDefaults(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}
	log = log.With("repo", conf.Owner+"/"+conf.Repo, "branch", conf.Branch)

	return &Repository{
		owner:        conf.Owner,
		repo:         conf.Repo,
		branch:       conf.Branch,
		rootSpecPath: conf.RootSpecPath,
		root:         conf.Root,
		dir:          filepath.Join(conf.Root, conf.Owner, conf.Repo, conf.Branch),
		interval:     conf.Interval,
		gitTimeout:   conf.GitTimeout,
		auth:         &conf.Auth,
		envs:         envs,
		queue:        make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		log:          log,
	}, nil
}

// Owner returns the repository owner.
func (r *Repository) Owner() string { return r.owner }

// Name returns the repository name.
func (r *Repository) Name() string { return r.repo }

// Branch returns the tracked branch.
func (r *Repository) Branch() string { return r.branch }

// Directory returns the absolute path of the working directory.
func (r *Repository) Directory() string { return r.dir }

// Interval returns the configured sync interval, zero when the
// repository is not periodically synced.
func (r *Repository) Interval() time.Duration { return r.interval }

// SpecURL returns the remotedoc URL of the repository's entry point
// document.
func (r *Repository) SpecURL() string {
	return docurl.Build(r.owner, r.repo, r.branch, r.rootSpecPath)
}

// Description returns the upstream repository description cached by the
// last successful sync.
func (r *Repository) Description() string {
	r.descMu.Lock()
	defer r.descMu.Unlock()
	return r.description
}

func (r *Repository) setDescription(desc string) {
	r.descMu.Lock()
	defer r.descMu.Unlock()
	r.description = desc
}

// IsRunning returns if the sync loop is running
func (r *Repository) IsRunning() bool {
	return r.running
}

// WorkTreeExists reports whether the working directory holds a git
// checkout.
func (r *Repository) WorkTreeExists() bool {
	return utils.DirExists(filepath.Join(r.dir, ".git"))
}

// Sync brings the working directory to the current tip of the tracked
// branch, cloning on the first call and fetch+reset after that. It runs
// under the write side of the repository lock so no read can observe a
// half-written tree. If another sync is already in flight the call
// returns early without queueing a redundant one.
func (r *Repository) Sync(ctx context.Context) error {
	if !r.syncing.CompareAndSwap(false, true) {
		r.log.Debug("sync already in progress, skipping")
		return nil
	}
	defer r.syncing.Store(false)

	r.lock.Lock()
	defer r.lock.Unlock()

	defer updateSyncLatency(r.repo, time.Now())

	var err error
	if r.WorkTreeExists() {
		err = r.update(ctx)
	} else {
		err = r.clone(ctx)
	}
	recordSync(r.repo, err == nil)
	if err != nil {
		return err
	}

	// description failures never fail the sync
	r.setDescription(r.fetchDescription(ctx))

	return nil
}

// EnqueueSync requests an out of band sync run on the loop. The request
// is dropped if one is already queued.
func (r *Repository) EnqueueSync() {
	select {
	case r.queue <- struct{}{}:
	default:
	}
}

// StartLoop syncs the repository periodically based on the repo's sync
// interval. Each wait is jittered by +-30% so that tracked repositories
// do not phase-lock on upstream rate limits. Queued sync requests
// (webhook pushes) fire the sync early.
func (r *Repository) StartLoop(ctx context.Context) {
	if r.running {
		r.log.Error("sync loop has already been started")
		return
	}
	if r.interval == 0 {
		r.log.Error("sync loop requires a non-zero interval")
		return
	}
	r.running = true
	r.log.Info("started repository sync loop", "interval", r.interval)

	defer func() {
		r.running = false
		close(r.stopped)
	}()

	for {
		t := time.NewTimer(jitteredInterval(r.interval))
		select {
		case <-t.C:
		case <-r.queue:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			return
		case <-r.stop:
			t.Stop()
			return
		}

		if err := r.Sync(ctx); err != nil {
			r.log.Error("repository sync failed", "err", err)
		}
	}
}

// StopLoop stops the sync loop and waits until it actually stops.
func (r *Repository) StopLoop() {
	if !r.running {
		return
	}
	close(r.stop)
	<-r.stopped
	r.log.Info("repository sync loop stopped")
}

// ReadFile returns the contents of the file at the given repo relative
// path under the read side of the repository lock. Content that is not
// valid UTF-8 is re-interpreted with replacement runes rather than
// failing the read.
func (r *Repository) ReadFile(ctx context.Context, path string) (string, error) {
	abs, err := r.safeJoin(path)
	if err != nil {
		return "", err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("unable to read doc file err:%w", err)
	}

	if !utf8.Valid(data) {
		r.log.Warn("doc file is not valid utf-8, replacing invalid bytes", "path", path)
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
	}

	return string(data), nil
}

// RemoveAll deletes the working directory under the write side of the
// repository lock so that no in flight read observes a partially deleted
// tree. Empty parent dirs up to the repository's own cache root are
// removed as well, the root itself is kept.
func (r *Repository) RemoveAll() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return utils.RemoveWithEmptyParents(r.dir, r.root)
}

// safeJoin resolves a repo relative path inside the working directory
// and rejects paths escaping it.
func (r *Repository) safeJoin(path string) (string, error) {
	abs := filepath.Join(r.dir, filepath.FromSlash(path))
	if abs != r.dir && !strings.HasPrefix(abs, r.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return abs, nil
}

// clone creates the initial shallow single-branch checkout. If an
// authenticated URL was used and the clone failed, it is retried once
// with the public URL.
func (r *Repository) clone(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.dir), 0755); err != nil {
		return fmt.Errorf("unable to create repo dir err:%w", err)
	}

	remote, authenticated := r.remoteURL(ctx)

	args := []string{"clone", "--branch", r.branch, "--single-branch", "--depth", "1", remote, r.dir}
	// git clone --branch <branch> --single-branch --depth 1 <remote> <dir>
	_, err := r.git(ctx, 2*r.gitTimeout, "", args...)
	if err == nil {
		return nil
	}

	if !authenticated {
		return fmt.Errorf("unable to clone repo err:%w", err)
	}

	r.log.Warn("authenticated clone failed, retrying with public url", "err", err)

	args = []string{"clone", "--branch", r.branch, "--single-branch", "--depth", "1", r.publicURL(), r.dir}
	if _, err := r.git(ctx, 2*r.gitTimeout, "", args...); err != nil {
		return fmt.Errorf("unable to clone repo err:%w", err)
	}
	return nil
}

// update brings an existing checkout to the tip of the tracked branch.
// A failing step leaves the checkout at its previous commit.
func (r *Repository) update(ctx context.Context) error {
	// git fetch origin <branch>
	if _, err := r.git(ctx, 2*r.gitTimeout, r.dir, "fetch", "origin", r.branch); err != nil {
		return fmt.Errorf("unable to fetch repo err:%w", err)
	}

	// git checkout <branch>
	if _, err := r.git(ctx, r.gitTimeout, r.dir, "checkout", r.branch); err != nil {
		return fmt.Errorf("unable to checkout branch err:%w", err)
	}

	// git reset --hard origin/<branch>
	if _, err := r.git(ctx, r.gitTimeout, r.dir, "reset", "--hard", "origin/"+r.branch); err != nil {
		return fmt.Errorf("unable to reset branch err:%w", err)
	}

	return nil
}

// git runs a git subcommand with the given timeout and cwd.
func (r *Repository) git(ctx context.Context, timeout time.Duration, cwd string, args ...string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return utils.RunCommand(cmdCtx, r.log, r.envs, cwd, gitExecutablePath, args...)
}
