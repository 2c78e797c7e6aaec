package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/storage"
)

const (
	logoutTokenTTL         = 120 * time.Second
	backchannelTimeout     = 10 * time.Second
	backchannelConcurrency = 4
)

const backchannelEvent = "http://schemas.openid.net/event/backchannel-logout"

// BackchannelDispatcher pushes OIDC backchannel-logout tokens to every
// client in the realm that registered a logout URI. Delivery is best-effort:
// failures are logged, never propagated.
type BackchannelDispatcher struct {
	baseURL string
	clients storage.ClientStore
	keys    *keys.Service
	http    *http.Client
	logger  *slog.Logger
}

func NewBackchannelDispatcher(baseURL string, clients storage.ClientStore, keySvc *keys.Service, logger *slog.Logger) *BackchannelDispatcher {
	return &BackchannelDispatcher{
		baseURL: baseURL,
		clients: clients,
		keys:    keySvc,
		http:    &http.Client{Timeout: backchannelTimeout},
		logger:  logger,
	}
}

// Dispatch signs and POSTs a logout token to each registered client with
// bounded parallelism.
func (d *BackchannelDispatcher) Dispatch(ctx context.Context, realm *storage.Realm, userID, sessionID uuid.UUID) {
	targets, err := d.clients.ListBackchannel(ctx, realm.ID)
	if err != nil {
		d.logger.Error("backchannel client lookup failed", "realm", realm.Name, "error", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	key, err := d.keys.ActiveKey(ctx, realm.ID)
	if err != nil {
		d.logger.Error("backchannel signing key unavailable", "realm", realm.Name, "error", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(backchannelConcurrency)
	for _, client := range targets {
		client := client
		g.Go(func() error {
			d.deliver(ctx, realm, client, key, userID, sessionID)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *BackchannelDispatcher) deliver(ctx context.Context, realm *storage.Realm, client *storage.Client, key *storage.SigningKey, userID, sessionID uuid.UUID) {
	payload := map[string]any{
		"iss": d.baseURL + "/realms/" + realm.Name,
		"aud": client.ClientID,
		"sub": userID.String(),
		"events": map[string]any{
			backchannelEvent: map[string]any{},
		},
	}
	if client.BackchannelLogoutSessionRequired {
		payload["sid"] = sessionID.String()
	}

	token, err := keys.SignJWT(payload, key.PrivateKeyPEM, key.Kid, logoutTokenTTL)
	if err != nil {
		d.logger.Error("failed to sign logout token", "client_id", client.ClientID, "error", err)
		return
	}

	body := url.Values{"logout_token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *client.BackchannelLogoutURI, strings.NewReader(body))
	if err != nil {
		d.logger.Error("failed to build logout request", "client_id", client.ClientID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.http.Do(req)
	if err != nil {
		d.logger.Warn("backchannel logout delivery failed", "client_id", client.ClientID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Warn("backchannel logout rejected",
			"client_id", client.ClientID, "status", resp.StatusCode)
	}
}
