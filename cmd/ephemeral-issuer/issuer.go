package main

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/webrtc"
)

// TokenResponse is returned by /token.
type TokenResponse struct {
	webrtc.SessionSecret
	RTCURL     string `json:"rtc_url"`
	Deployment string `json:"deployment"`
}

type issuer struct {
	cfg    rtconsole.Config
	region string
	voice  string
	log    *rtconsole.Logger
	client *http.Client

	// OIDC; empty issuer disables caller verification
	tokenType string // "id" or "access"
	issuer    string
	audience  string
	verifier  *oidc.IDTokenVerifier
	jwks      *keyfunc.JWKS

	allowedOrigins []string
}

func (s *issuer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/token", s.cors(s.auth(http.HandlerFunc(s.handleToken))))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	secret, err := webrtc.MintSessionSecret(ctx, s.client, s.cfg, s.voice)
	if err != nil {
		s.log.Error("mint_failed", map[string]any{"err": err})
		http.Error(w, "mint failed", http.StatusBadGateway)
		return
	}
	s.log.Info("secret_issued", map[string]any{"session_id": secret.SessionID})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(TokenResponse{
		SessionSecret: secret,
		RTCURL:        webrtc.WebRTCURL(s.cfg, s.region),
		Deployment:    s.cfg.Deployment,
	}); err != nil {
		s.log.Warn("encode_failed", map[string]any{"err": err})
	}
}

// auth verifies the caller's bearer token when OIDC is configured.
func (s *issuer) auth(next http.Handler) http.Handler {
	if s.issuer == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(header[len("Bearer "):])

		if err := s.verify(r.Context(), raw); err != nil {
			s.log.Warn("caller_rejected", map[string]any{"err": err, "remote": r.RemoteAddr})
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *issuer) verify(ctx context.Context, raw string) error {
	if s.tokenType == "id" {
		if s.verifier == nil {
			return rtconsole.NewConfigError("verifier", "", "not initialized")
		}
		_, err := s.verifier.Verify(ctx, raw)
		return err
	}
	if s.jwks == nil {
		return rtconsole.NewConfigError("jwks", "", "not initialized")
	}
	tok, err := jwt.Parse(raw, s.jwks.Keyfunc, jwt.WithAudience(s.audience), jwt.WithIssuer(s.issuer))
	if err != nil {
		return err
	}
	if !tok.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}

func (s *issuer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(s.allowedOrigins) == 0 || slices.Contains(s.allowedOrigins, origin) || slices.Contains(s.allowedOrigins, "*")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
