package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/remotedoc/gateway/repopool"
)

type GitHubEvent struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`

	// The full git ref that was pushed. Example: refs/heads/main or refs/tags/v3.14.1.
	Ref string `json:"ref"`
}

type webhookResponse struct {
	Status     string `json:"status"`
	Event      string `json:"event,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

type GithubWebhookHandler struct {
	repoPool *repopool.RepoPool
	secret   string
	log      *slog.Logger
}

func (wh *GithubWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		wh.log.Error("cannot read request body", "error", err)
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Message: "cannot read request body"})
		return
	}

	// signature verification is on only when a secret is configured
	if wh.secret != "" && !wh.isValidSignature(body, r.Header.Get("X-Hub-Signature-256")) {
		wh.log.Error("invalid signature")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	// The ping event is a confirmation from GitHub that
	// the webhook is configured correctly.
	if event == "ping" {
		w.Write([]byte("pong"))
		return
	}

	// only process 'push' event but return ok for all events to mark
	// successful delivery
	if event == "push" {
		var payload GitHubEvent
		if err := json.Unmarshal(body, &payload); err != nil {
			wh.log.Error("cannot unmarshal json payload", "error", err)
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Status: "error", Message: "cannot unmarshal json payload"})
			return
		}
		wh.processPushEvent(payload)
	}

	writeJSON(w, http.StatusOK, webhookResponse{Status: "success", Event: event, DeliveryID: deliveryID})
}

func (wh *GithubWebhookHandler) isValidSignature(message []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(wh.computeHMAC(message, wh.secret)))
}

func (wh *GithubWebhookHandler) computeHMAC(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))

	if _, err := mac.Write(message); err != nil {
		wh.log.Error("cannot compute hmac for request", "error", err)
		return ""
	}

	// GH adds `sha256=` prefix in header value
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (wh *GithubWebhookHandler) processPushEvent(event GitHubEvent) {
	branch := strings.TrimPrefix(event.Ref, "refs/heads/")

	err := wh.repoPool.QueueSync(event.Repository.Owner.Login, event.Repository.Name, branch)
	if err != nil {
		// pushes to untracked repos or branches are expected noise
		if errors.Is(err, repopool.ErrNotExist) {
			wh.log.Debug("push event for untracked repository",
				"repo", event.Repository.Owner.Login+"/"+event.Repository.Name, "branch", branch)
			return
		}
		wh.log.Error("unable to process push event", "repo", event.Repository.Name, "err", err)
	}
}
