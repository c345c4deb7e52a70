package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/remotedoc/gateway/githubapp"
)

// publicURL returns the unauthenticated https remote of the repository.
func (r *Repository) publicURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", r.owner, r.repo)
}

// remoteURL returns the remote to clone or fetch from and whether it
// carries a credential. A github app credential that cannot be minted
// falls back to the public URL.
func (r *Repository) remoteURL(ctx context.Context) (string, bool) {
	var token string
	switch {
	case r.auth.Token != "":
		token = r.auth.Token

	case r.auth.GithubAppInstallationID != "":
		var err error
		token, err = r.getGithubAppToken(ctx)
		if err != nil {
			r.log.Error("unable to get github app token", "err", err)
			return r.publicURL(), false
		}

	default:
		return r.publicURL(), false
	}

	return fmt.Sprintf("https://%s@github.com/%s/%s.git", token, r.owner, r.repo), true
}

func (r *Repository) getGithubAppToken(ctx context.Context) (string, error) {
	// return token if current token is valid for next 10 min
	if r.githubAppTokenExpiresAt.After(time.Now().UTC().Add(10 * time.Minute)) {
		return r.githubAppToken, nil
	}

	permissions := githubapp.TokenReqPermissions{
		Repositories: []string{r.repo},
		Permissions:  map[string]string{"contents": "read", "metadata": "read"},
	}

	token, err := githubapp.InstallationToken(ctx,
		r.auth.GithubAppID, r.auth.GithubAppInstallationID, r.auth.GithubAppPrivateKeyPath,
		permissions)
	if err != nil {
		return "", err
	}

	r.githubAppToken = token.Token
	r.githubAppTokenExpiresAt = token.ExpiresAt

	r.log.Debug("new github app access token created")

	return r.githubAppToken, nil
}
