package repopool

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/remotedoc/gateway/auth"
	"github.com/remotedoc/gateway/repository"
)

const (
	testKey      = "raw-test-key"
	testOtherKey = "other-key"
)

func testLog(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBinding(t *testing.T) *auth.Binding {
	t.Helper()
	store, err := auth.NewStaticStore([]auth.KeyConfig{
		{Name: "full", Key: testKey, Repositories: []auth.RepoRef{
			{Owner: "alice", Repo: "docs", Branch: "main"},
			{Owner: "bob", Repo: "wiki", Branch: "dev"},
		}},
		{Name: "partial", Key: testOtherKey, Repositories: []auth.RepoRef{
			{Owner: "bob", Repo: "wiki", Branch: "dev"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	return auth.NewBinding(store)
}

func newTestPool(t *testing.T) *RepoPool {
	t.Helper()
	root := t.TempDir()
	pool, err := New(t.Context(), Config{
		Defaults: DefaultConfig{Root: root},
		Repositories: []repository.Config{
			{Owner: "alice", Repo: "docs", Branch: "main"},
			{Owner: "bob", Repo: "wiki", Branch: "dev", RootSpecPath: "docs/index.md"},
		},
	}, testBinding(t), testLog(t), nil)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	return pool
}

// fakeCheckout makes the repo look cloned so reads never invoke git
func fakeCheckout(t *testing.T, pool *RepoPool, repoName string, files map[string]string) {
	t.Helper()
	repo := pool.repositoryByName(repoName)
	if repo == nil {
		t.Fatalf("repo %s not in pool", repoName)
	}
	if err := os.MkdirAll(filepath.Join(repo.Directory(), ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	for path, content := range files {
		abs := filepath.Join(repo.Directory(), filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestNew_duplicateIdentity(t *testing.T) {
	_, err := New(t.Context(), Config{
		Defaults: DefaultConfig{Root: t.TempDir()},
		Repositories: []repository.Config{
			{Owner: "alice", Repo: "docs", Branch: "main"},
			{Owner: "alice", Repo: "docs", Branch: "main"},
		},
	}, testBinding(t), testLog(t), nil)
	if !errors.Is(err, ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
}

func TestRepoPool_ListDocs(t *testing.T) {
	pool := newTestPool(t)

	docs, err := pool.ListDocs(t.Context(), testKey)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	want := []DocInfo{
		{RepoName: "docs", SpecURL: "remotedoc://alice/docs/main/spec.md"},
		{RepoName: "wiki", SpecURL: "remotedoc://bob/wiki/dev/docs/index.md"},
	}
	if diff := cmp.Diff(want, docs); diff != "" {
		t.Errorf("ListDocs() mismatch (-want +got):\n%s", diff)
	}

	// key bound to a subset sees only its subset
	docs, err = pool.ListDocs(t.Context(), testOtherKey)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	if len(docs) != 1 || docs[0].RepoName != "wiki" {
		t.Errorf("partial key must only see wiki, got %v", docs)
	}

	if _, err := pool.ListDocs(t.Context(), "unknown-key"); !errors.Is(err, auth.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestRepoPool_ReadDoc(t *testing.T) {
	pool := newTestPool(t)
	fakeCheckout(t, pool, "docs", map[string]string{
		"guides/setup.md": "# Setup\n\nSee [next](steps.md).\n",
	})

	got, err := pool.ReadDoc(t.Context(), "alice/docs/main/guides/setup.md", testKey)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	if !strings.Contains(got, "[next](remotedoc://alice/docs/main/guides/steps.md)") {
		t.Errorf("relative link must be rewritten, got:\n%s", got)
	}
}

func TestRepoPool_ReadDoc_nameOnlyLookup(t *testing.T) {
	pool := newTestPool(t)
	fakeCheckout(t, pool, "docs", map[string]string{"README.md": "hello\n"})

	// owner and branch in the path differ from the tracked repo, the
	// tracked one is served anyway
	got, err := pool.ReadDoc(t.Context(), "wrong-owner/docs/wrong-branch/README.md", testKey)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	if got != "hello\n" {
		t.Errorf("ReadDoc() = %q", got)
	}
}

func TestRepoPool_ReadDoc_errors(t *testing.T) {
	pool := newTestPool(t)
	fakeCheckout(t, pool, "docs", map[string]string{"README.md": "hello\n"})
	fakeCheckout(t, pool, "wiki", map[string]string{"docs/index.md": "wiki\n"})

	tests := []struct {
		name    string
		path    string
		key     string
		wantErr error
	}{
		{"missing-file-part", "alice/docs/main", testKey, repository.ErrNotFound},
		{"unknown-repo", "alice/unknown/main/README.md", testKey, ErrNotExist},
		{"missing-doc", "alice/docs/main/nope.md", testKey, repository.ErrNotFound},
		{"unknown-key", "alice/docs/main/README.md", "bad-key", ErrUnauthorized},
		{"unbound-repo", "alice/docs/main/README.md", testOtherKey, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := pool.ReadDoc(t.Context(), tt.path, tt.key); !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadDoc() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRepoPool_RemoveRepository(t *testing.T) {
	pool := newTestPool(t)
	fakeCheckout(t, pool, "docs", map[string]string{"README.md": "hello\n"})

	dir := pool.repositoryByName("docs").Directory()
	ownerDir := filepath.Dir(filepath.Dir(dir))

	if err := pool.RemoveRepository("alice", "docs", "main"); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("working directory must be removed")
	}
	if _, err := os.Stat(ownerDir); !os.IsNotExist(err) {
		t.Errorf("empty owner directory must be removed")
	}
	if pool.repositoryByName("docs") != nil {
		t.Errorf("repository must be removed from the pool")
	}

	if err := pool.RemoveRepository("alice", "docs", "main"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestRepoPool_RemoveRepository_perRepoRoot(t *testing.T) {
	cacheRoot := filepath.Join(t.TempDir(), "wiki-cache")
	pool, err := New(t.Context(), Config{
		Defaults: DefaultConfig{Root: t.TempDir()},
		Repositories: []repository.Config{
			{Owner: "bob", Repo: "wiki", Branch: "dev", Root: cacheRoot},
		},
	}, testBinding(t), testLog(t), nil)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	fakeCheckout(t, pool, "wiki", map[string]string{"docs/index.md": "wiki\n"})

	if err := pool.RemoveRepository("bob", "wiki", "dev"); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	if _, err := os.Stat(filepath.Join(cacheRoot, "bob")); !os.IsNotExist(err) {
		t.Errorf("empty owner directory must be removed")
	}
	// the repository's own cache root survives even when it differs from
	// the pool default root
	if fi, err := os.Stat(cacheRoot); err != nil || !fi.IsDir() {
		t.Errorf("cache root must be kept, err:%v", err)
	}
}

func TestRepoPool_UpdateRepository(t *testing.T) {
	pool := newTestPool(t)
	fakeCheckout(t, pool, "docs", map[string]string{"spec.md": "hello\n"})

	oldDir := pool.repositoryByName("docs").Directory()

	// the re-sync fails without a reachable remote, the pool entry is
	// already swapped by then
	_ = pool.UpdateRepository(t.Context(), "alice", "docs", "main", repository.Config{
		Owner: "alice", Repo: "docs", Branch: "release",
		Root: pool.root, GitTimeout: time.Second,
	})

	if pool.repositoryByIdentity("alice", "docs", "main") != nil {
		t.Errorf("old identity must be gone after an identity change")
	}
	repo := pool.repositoryByIdentity("alice", "docs", "release")
	if repo == nil {
		t.Fatalf("new identity must be tracked")
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("old working directory must be removed")
	}

	var count int
	pool.lock.RLock()
	for _, r := range pool.repos {
		if r.Name() == "docs" {
			count++
		}
	}
	pool.lock.RUnlock()
	if count != 1 {
		t.Errorf("pool must keep a single docs entry, got %d", count)
	}
}

func TestRepoPool_UpdateRepository_fallsThroughToAdd(t *testing.T) {
	pool := newTestPool(t)

	// the initial sync fails without a reachable remote, the repository
	// is tracked regardless
	_ = pool.UpdateRepository(t.Context(), "carol", "notes", "main", repository.Config{
		Owner: "carol", Repo: "notes", Branch: "main",
		Root: pool.root, GitTimeout: time.Second,
	})

	if pool.repositoryByIdentity("carol", "notes", "main") == nil {
		t.Errorf("unknown identity must be added to the pool")
	}
}

func TestRepoPool_AddRepository_degradesToUpdate(t *testing.T) {
	pool := newTestPool(t)
	fakeCheckout(t, pool, "docs", map[string]string{"spec.md": "hello\n"})

	_ = pool.AddRepository(t.Context(), repository.Config{
		Owner: "alice", Repo: "docs", Branch: "main",
		RootSpecPath: "docs/intro.md", Root: pool.root, GitTimeout: time.Second,
	})

	repo := pool.repositoryByIdentity("alice", "docs", "main")
	if repo == nil {
		t.Fatalf("identity must still be tracked")
	}
	if repo.SpecURL() != "remotedoc://alice/docs/main/docs/intro.md" {
		t.Errorf("new config must be applied, spec url = %q", repo.SpecURL())
	}

	var count int
	pool.lock.RLock()
	for _, r := range pool.repos {
		if r.Name() == "docs" {
			count++
		}
	}
	pool.lock.RUnlock()
	if count != 1 {
		t.Errorf("pool must keep a single docs entry, got %d", count)
	}
}

func TestConfig_defaults(t *testing.T) {
	conf := Config{
		Defaults: DefaultConfig{Root: "/tmp/cache"},
		Repositories: []repository.Config{
			{Owner: "o", Repo: "r"},
		},
	}
	if err := conf.ValidateAndApplyDefaults(); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	if conf.Defaults.MaxWorkers != defaultMaxWorkers {
		t.Errorf("max workers = %d, want %d", conf.Defaults.MaxWorkers, defaultMaxWorkers)
	}
	if conf.Repositories[0].Root != "/tmp/cache" {
		t.Errorf("repo root not inherited, got %q", conf.Repositories[0].Root)
	}

	conf = Config{}
	if err := conf.ValidateAndApplyDefaults(); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	if filepath.Base(conf.Defaults.Root) != defaultCacheDirName {
		t.Errorf("default cache root = %q, want .../%s", conf.Defaults.Root, defaultCacheDirName)
	}

	conf = Config{Defaults: DefaultConfig{Root: "relative/path"}}
	if err := conf.ValidateAndApplyDefaults(); err == nil {
		t.Error("expected error for relative cache root")
	}
}
