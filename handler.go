package grantkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coreauth/grantkit/grant"
	"github.com/coreauth/grantkit/security"
	"github.com/coreauth/grantkit/storage"
)

// HandlerConfig configures the token-endpoint handler.
type HandlerConfig struct {
	// Dispatcher routes authenticated token requests (required).
	Dispatcher *grant.Dispatcher

	// Clients authenticates the requesting client (required).
	Clients storage.ClientStore

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger

	// Limiter optionally flood-limits requests per client ID.
	Limiter *security.RateLimiter
}

// Handler is the HTTP token endpoint. It authenticates the client, parses
// the form into a token request, dispatches it, and renders the outcome:
// a token response, a need_info continuation, or an RFC 6749 error body.
type Handler struct {
	dispatcher *grant.Dispatcher
	clients    storage.ClientStore
	logger     *slog.Logger
	limiter    *security.RateLimiter
}

// NewHandler creates a token-endpoint handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		dispatcher: cfg.Dispatcher,
		clients:    cfg.Clients,
		logger:     cfg.Logger,
		limiter:    cfg.Limiter,
	}, nil
}

// ServeHTTP implements the token endpoint (RFC 6749 Section 3.2).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Token responses must never be cached (RFC 6749 Section 5.1).
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")

	if r.Method != http.MethodPost {
		h.writeError(w, grant.NewOAuthError(grant.ErrorCodeInvalidRequest,
			"token requests must use POST", http.StatusMethodNotAllowed))
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, grant.ErrInvalidRequest("malformed form body"))
		return
	}

	client, oerr := h.authenticateClient(r)
	if oerr != nil {
		h.writeError(w, oerr)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(client.ClientID) {
		h.logger.Warn("Token request rate limited", "client_id", client.ClientID)
		h.writeError(w, grant.NewOAuthError(grant.ErrorCodeTemporarilyUnavailable,
			"too many requests", http.StatusTooManyRequests))
		return
	}

	req := grant.ParseTokenRequest(r.PostForm)
	outcome, err := h.dispatcher.Grant(r.Context(), req, client)
	if err != nil {
		var oe *grant.OAuthError
		if errors.As(err, &oe) {
			h.writeError(w, oe)
			return
		}
		h.logger.Error("Token request failed", "client_id", client.ClientID, "error", err)
		h.writeError(w, grant.ErrServerError("token request failed"))
		return
	}

	if outcome.NeedInfo != nil {
		h.writeNeedInfo(w, outcome.NeedInfo)
		return
	}
	h.writeToken(w, outcome)
}

// authenticateClient resolves and authenticates the requesting client from
// Basic auth credentials or the client_id/client_secret form parameters.
// Public clients authenticate by client_id alone.
func (h *Handler) authenticateClient(r *http.Request) (*storage.Client, *grant.OAuthError) {
	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		return nil, grant.ErrInvalidClient("client authentication required")
	}

	client, err := h.clients.GetClient(r.Context(), clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, grant.ErrInvalidClient("client authentication failed")
		}
		h.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		return nil, grant.NewOAuthError(grant.ErrorCodeServerError,
			"client lookup failed", http.StatusInternalServerError)
	}

	if clientSecret != "" {
		if err := h.clients.ValidateClientSecret(r.Context(), clientID, clientSecret); err != nil {
			return nil, grant.ErrInvalidClient("client authentication failed")
		}
		return client, nil
	}

	if client.ClientType != "public" {
		return nil, grant.ErrInvalidClient("client authentication required")
	}
	return client, nil
}

// clientCredentials extracts the client credentials. Basic auth values are
// form-urlencoded per RFC 6749 Section 2.3.1.
func clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func (h *Handler) writeToken(w http.ResponseWriter, outcome *grant.Outcome) {
	t := outcome.Token

	body := map[string]any{
		"access_token": t.AccessToken,
		"token_type":   t.TokenType,
	}
	if t.ExpiresIn > 0 {
		body["expires_in"] = t.ExpiresIn
	}
	if t.RefreshToken != "" {
		body["refresh_token"] = t.RefreshToken
	}
	if t.Scope != "" {
		body["scope"] = t.Scope
	}
	for k, v := range t.AdditionalInformation {
		if _, taken := body[k]; !taken {
			body[k] = v
		}
	}

	h.writeJSON(w, http.StatusOK, body)
}

// needInfoResponse is the UMA 2.0 claims-gathering continuation body.
type needInfoResponse struct {
	Error          string                `json:"error"`
	Ticket         string                `json:"ticket,omitempty"`
	RequiredClaims []grant.RequiredClaim `json:"required_claims"`
}

func (h *Handler) writeNeedInfo(w http.ResponseWriter, info *grant.NeedInfo) {
	h.writeJSON(w, http.StatusForbidden, needInfoResponse{
		Error:          "need_info",
		Ticket:         info.Ticket,
		RequiredClaims: info.RequiredClaims,
	})
}

// errorResponse is the RFC 6749 Section 5.2 error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, oe *grant.OAuthError) {
	if oe.Code == grant.ErrorCodeInvalidClient && oe.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	h.writeJSON(w, oe.Status, errorResponse{Error: oe.Code, ErrorDescription: oe.Description})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response body", "error", err)
	}
}
