package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/grantd/api"
	"pkt.systems/grantd/internal/core"
	"pkt.systems/pslog"
)

func (h *Handler) handleAuthorizePage(w http.ResponseWriter, r *http.Request) error {
	pending, err := h.validateAuthorizeRequest(w, r)
	if err != nil || pending == nil {
		return err
	}
	return renderConsentPage(w, *pending, authorizeQuery(r))
}

func (h *Handler) handleAuthorizeDecision(w http.ResponseWriter, r *http.Request) error {
	pending, err := h.validateAuthorizeRequest(w, r)
	if err != nil || pending == nil {
		return err
	}
	ownerID, ok := h.cfg.Sessions.Resolve(r)
	if !ok {
		ownerID = core.NoOwner
	}
	decision := core.Decision{
		Allowed: r.URL.Query().Get("allow") == "true",
		OwnerID: ownerID,
	}
	code, err := h.cfg.Flow.FinishAuthorize(*pending, decision)
	if err != nil {
		if errors.Is(err, core.ErrConsentDenied) {
			redirectError(w, r, pending.RedirectURI, api.ErrorAccessDenied, pending.State)
			return nil
		}
		return err
	}
	target, err := url.Parse(pending.RedirectURI)
	if err != nil {
		return err
	}
	q := target.Query()
	q.Set("code", code)
	if pending.State != "" {
		q.Set("state", pending.State)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
	return nil
}

// validateAuthorizeRequest checks the authorization query. A nil pending
// with a nil error means the response (an error redirect) was already
// written.
func (h *Handler) validateAuthorizeRequest(w http.ResponseWriter, r *http.Request) (*core.Pending, error) {
	q := r.URL.Query()
	pending, err := h.cfg.Flow.ValidateAuthorize(
		q.Get("client_id"),
		q.Get("redirect_uri"),
		q.Get("scope"),
		q.Get("state"),
	)
	if err != nil {
		// The redirect target is only trusted once the registry validated
		// it, so scope problems redirect while client and redirect
		// problems render as direct errors.
		if errors.Is(err, core.ErrInvalidScope) {
			redirectError(w, r, q.Get("redirect_uri"), api.ErrorInvalidScope, q.Get("state"))
			return nil, nil
		}
		return nil, err
	}
	if rt := q.Get("response_type"); rt != "code" {
		redirectError(w, r, pending.RedirectURI, api.ErrorUnsupportedResponseType, pending.State)
		return nil, nil
	}
	return &pending, nil
}

// authorizeQuery rebuilds the canonical authorization query so the consent
// form re-posts exactly the validated parameters and nothing else.
func authorizeQuery(r *http.Request) url.Values {
	in := r.URL.Query()
	out := url.Values{}
	for _, key := range []string{"response_type", "client_id", "redirect_uri", "scope", "state"} {
		if v := in.Get(key); v != "" {
			out.Set(key, v)
		}
	}
	return out
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, code, http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("error", code)
	if state != "" {
		q.Set("state", state)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) error {
	form, err := h.parseForm(r)
	if err != nil {
		return err
	}
	switch form.Get("grant_type") {
	case "authorization_code":
	case "refresh_token":
		return h.refreshFromForm(w, r, form)
	default:
		return badRequest(api.ErrorUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
	code := form.Get("code")
	clientID := form.Get("client_id")
	redirectURI := form.Get("redirect_uri")
	if code == "" || clientID == "" || redirectURI == "" {
		return badRequest(api.ErrorInvalidRequest, "code, client_id and redirect_uri are required")
	}
	issued, err := h.cfg.Flow.ExchangeCode(clientID, redirectURI, code)
	h.redeemedCodes.Add(r.Context(), 1, outcomeAttr(err))
	if err != nil {
		return err
	}
	h.issuedTokens.Add(r.Context(), 1)
	writeTokenResponse(w, issued)
	return nil
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) error {
	form, err := h.parseForm(r)
	if err != nil {
		return err
	}
	if gt := form.Get("grant_type"); gt != "refresh_token" {
		return badRequest(api.ErrorUnsupportedGrantType, "grant_type must be refresh_token")
	}
	return h.refreshFromForm(w, r, form)
}

func (h *Handler) refreshFromForm(w http.ResponseWriter, r *http.Request, form url.Values) error {
	refreshToken := form.Get("refresh_token")
	if refreshToken == "" {
		return badRequest(api.ErrorInvalidRequest, "refresh_token is required")
	}
	issued, err := h.cfg.Flow.Refresh(refreshToken, form.Get("scope"))
	h.rotatedTokens.Add(r.Context(), 1, outcomeAttr(err))
	if err != nil {
		return err
	}
	writeTokenResponse(w, issued)
	return nil
}

func (h *Handler) handleResource(w http.ResponseWriter, r *http.Request) error {
	bearer, ok := bearerToken(r)
	if !ok {
		h.resourceChecks.Add(r.Context(), 1, outcomeAttr(core.ErrInvalidAccessToken))
		return bearerChallenge(http.StatusUnauthorized, "", "missing bearer token; obtain one via /oauth/authorize")
	}
	grant, err := h.cfg.Flow.Protect(bearer, h.cfg.ResourceScope)
	h.resourceChecks.Add(r.Context(), 1, outcomeAttr(err))
	if err != nil {
		return err
	}
	pslog.LoggerFromContext(r.Context()).Debug("resource access granted",
		"owner_id", grant.OwnerID, "client_id", grant.ClientID)
	writeJSON(w, http.StatusOK, api.ResourceResponse{
		Owner: grant.OwnerID,
		Scope: grant.Scope.String(),
	}, nil)
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"}, nil)
	return nil
}

func (h *Handler) parseForm(r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.cfg.FormMaxBytes)
	if err := r.ParseForm(); err != nil {
		return nil, badRequest(api.ErrorInvalidRequest, "malformed form body")
	}
	return r.PostForm, nil
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

func writeTokenResponse(w http.ResponseWriter, issued core.IssuedToken) {
	headers := http.Header{}
	headers.Set("Cache-Control", "no-store")
	headers.Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, api.TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    api.TokenTypeBearer,
		ExpiresIn:    int64(issued.ExpiresIn.Seconds()),
		RefreshToken: issued.RefreshToken,
		Scope:        issued.Grant.Scope.String(),
	}, headers)
}

func outcomeAttr(err error) metric.AddOption {
	outcome := "ok"
	if err != nil {
		outcome = "denied"
	}
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
