package repository

import (
	"context"
	"net/http"
	"time"

	"github.com/google/go-github/v43/github"
	"golang.org/x/oauth2"
)

const descriptionFetchTimeout = 10 * time.Second

// fetchDescription fetches the upstream repository description. Any
// failure (auth, not found, network) yields an empty description, the
// caller treats the description as best effort metadata.
func (r *Repository) fetchDescription(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, descriptionFetchTimeout)
	defer cancel()

	var hc *http.Client
	if token := r.bearerToken(); token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}

	repo, _, err := github.NewClient(hc).Repositories.Get(ctx, r.owner, r.repo)
	if err != nil {
		r.log.Debug("unable to fetch repository description", "err", err)
		return ""
	}

	return repo.GetDescription()
}

// bearerToken returns the credential usable for API calls, if any.
func (r *Repository) bearerToken() string {
	if r.auth.Token != "" {
		return r.auth.Token
	}
	if r.githubAppTokenExpiresAt.After(time.Now().UTC()) {
		return r.githubAppToken
	}
	return ""
}
