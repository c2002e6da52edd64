// Command ephemeral-issuer mints short-lived session secrets for browser
// consoles. Callers can be required to present an OIDC ID token or JWT access
// token, and CORS origins can be restricted.
package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/MicahParks/keyfunc/v2"
	"github.com/joho/godotenv"

	"github.com/enesunal-m/rtconsole"
)

func main() {
	_ = godotenv.Load()
	logger := rtconsole.NewLoggerFromEnv()
	logger.SetComponent("ephemeral-issuer")

	cfg := rtconsole.ConfigFromEnv()
	if err := rtconsole.ValidateConfig(cfg); err != nil {
		logger.Error("invalid_config", map[string]any{"err": err})
		os.Exit(1)
	}

	s := &issuer{
		cfg:    cfg,
		region: os.Getenv("AZURE_OPENAI_REGION"),
		voice:  env("REALTIME_VOICE", "verse"),
		log:    logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	if cfg.APIVersion != "" && s.region == "" {
		logger.Error("missing_env", map[string]any{"name": "AZURE_OPENAI_REGION"})
		os.Exit(1)
	}

	if iss := os.Getenv("OIDC_ISSUER"); iss != "" {
		if err := s.setupOIDC(context.Background(), iss, os.Getenv("OIDC_AUDIENCE"), env("OIDC_TOKEN_TYPE", "access")); err != nil {
			logger.Error("oidc_setup_failed", map[string]any{"err": err})
			os.Exit(1)
		}
	} else {
		logger.Info("oidc_disabled", nil)
	}

	if ao := os.Getenv("CORS_ALLOWED_ORIGINS"); ao != "" {
		s.allowedOrigins = splitCSV(ao)
		logger.Info("cors_configured", map[string]any{"origins": s.allowedOrigins})
	}

	addr := env("ADDR", ":8080")
	logger.Info("listening", map[string]any{"addr": addr})
	if err := http.ListenAndServe(addr, s.routes()); err != nil {
		logger.Error("server_failed", map[string]any{"err": err})
		os.Exit(1)
	}
}

func (s *issuer) setupOIDC(ctx context.Context, iss, aud, tokenType string) error {
	if aud == "" {
		return rtconsole.NewConfigError("OIDC_AUDIENCE", "", "required when OIDC_ISSUER is set")
	}
	prov, err := oidc.NewProvider(ctx, iss)
	if err != nil {
		return err
	}
	s.issuer, s.audience, s.tokenType = iss, aud, tokenType

	if tokenType == "id" {
		s.verifier = prov.Verifier(&oidc.Config{ClientID: aud})
		s.log.Info("oidc_enabled", map[string]any{"issuer": iss, "audience": aud, "token_type": "id"})
		return nil
	}

	var disc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
		return rtconsole.NewConfigError("OIDC_ISSUER", iss, "discovery document has no jwks_uri")
	}
	jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshTimeout:  10 * time.Second,
	})
	if err != nil {
		return err
	}
	s.jwks = jwks
	s.log.Info("oidc_enabled", map[string]any{"issuer": iss, "audience": aud, "token_type": "access"})
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
