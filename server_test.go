package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remotedoc/gateway/auth"
	"github.com/remotedoc/gateway/repopool"
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

// newTestServer builds a server over a pool with one tracked repository
// whose checkout is faked on disk, reads never invoke git.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := auth.NewStaticStore([]auth.KeyConfig{
		{Name: "full", Key: testKey, Repositories: []auth.RepoRef{
			{Owner: "alice", Repo: "docs", Branch: "main"},
		}},
		{Name: "unbound", Key: testOtherKey},
	})
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	pool, err := repopool.New(t.Context(), repopool.Config{
		Defaults: repopool.DefaultConfig{Root: t.TempDir()},
		Repositories: []repository.Config{
			{Owner: "alice", Repo: "docs", Branch: "main"},
		},
	}, auth.NewBinding(store), testLog(t), nil)
	if err != nil {
		t.Fatalf("unexpected err:%s", err)
	}

	dir := pool.RepositoriesDirPath()[0]
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	body := "# hi\n\nSee [guide](./docs/g.md) and [home](/abs) and [x](http://y)\n"
	if err := os.WriteFile(filepath.Join(dir, "spec.md"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	srv := &server{pool: pool, log: testLog(t)}
	srv.registerRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func doPost(t *testing.T, url, authorization string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req, err := http.NewRequest("POST", url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, respBody
}

func Test_server_listDoc(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doPost(t, ts.URL+"/api/tools/list_doc", "Bearer "+testKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body: %s", resp.StatusCode, body)
	}

	var docs []repopool.DocInfo
	if err := json.Unmarshal(body, &docs); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	if len(docs) != 1 || docs[0].SpecURL != "remotedoc://alice/docs/main/spec.md" {
		t.Errorf("unexpected docs: %v", docs)
	}

	// scheme matching is case-insensitive
	resp, _ = doPost(t, ts.URL+"/api/tools/list_doc", "bearer "+testKey, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("lowercase scheme status = %d, want 200", resp.StatusCode)
	}
}

func Test_server_listDoc_auth(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name          string
		authorization string
		wantStatus    int
	}{
		{"missing-header", "", http.StatusUnauthorized},
		{"malformed-header", "raw-test-key", http.StatusUnauthorized},
		{"wrong-scheme", "Basic " + testKey, http.StatusUnauthorized},
		{"unknown-key", "Bearer no-such-key", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doPost(t, ts.URL+"/api/tools/list_doc", tt.authorization, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func Test_server_readDoc(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doPost(t, ts.URL+"/api/tools/read_doc", "Bearer "+testKey,
		readDocRequest{URL: "remotedoc://alice/docs/main/spec.md"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body: %s", resp.StatusCode, body)
	}

	var rd readDocResponse
	if err := json.Unmarshal(body, &rd); err != nil {
		t.Fatalf("unexpected err:%s", err)
	}
	if !strings.Contains(rd.Content, "See [guide](remotedoc://alice/docs/main/docs/g.md) and [home](/abs) and [x](http://y)") {
		t.Errorf("relative links must be rewritten, got:\n%s", rd.Content)
	}
}

func Test_server_readDoc_errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name          string
		authorization string
		url           string
		wantStatus    int
	}{
		{"missing-credential", "", "remotedoc://alice/docs/main/spec.md", http.StatusUnauthorized},
		{"invalid-url", "Bearer " + testKey, "http://x", http.StatusBadRequest},
		{"missing-doc", "Bearer " + testKey, "remotedoc://alice/docs/main/nope.md", http.StatusNotFound},
		{"unknown-repo", "Bearer " + testKey, "remotedoc://alice/unknown/main/spec.md", http.StatusNotFound},
		{"unbound-key", "Bearer " + testOtherKey, "remotedoc://alice/docs/main/spec.md", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doPost(t, ts.URL+"/api/tools/read_doc", tt.authorization,
				readDocRequest{URL: tt.url})
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d, body: %s", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}
