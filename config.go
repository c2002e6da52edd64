package rtconsole

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvOpenAIKey        = "OPENAI_API_KEY"
	EnvOpenAIModel      = "OPENAI_REALTIME_MODEL"
	EnvAzureEndpoint    = "AZURE_OPENAI_ENDPOINT"
	EnvAzureKey         = "AZURE_OPENAI_API_KEY"
	EnvAzureDeployment  = "AZURE_OPENAI_REALTIME_DEPLOYMENT"
	EnvAzureAPIVersion  = "AZURE_OPENAI_API_VERSION"
	DefaultOpenAIURL    = "https://api.openai.com"
	DefaultOpenAIModel  = "gpt-4o-realtime-preview-2024-12-17"
	DefaultAzureVersion = "2025-04-01-preview"
)

// Credential represents an authentication method for the realtime endpoint.
// Implementations must apply the appropriate authentication headers to HTTP requests.
type Credential interface {
	apply(h http.Header)
	empty() bool
}

// APIKey implements Credential using Azure OpenAI API key authentication.
type APIKey string

// apply adds the API key to the request headers using the "api-key" header.
func (k APIKey) apply(h http.Header) {
	if k != "" {
		h.Set("api-key", string(k))
	}
}

func (k APIKey) empty() bool { return strings.TrimSpace(string(k)) == "" }

// Bearer implements Credential using Bearer token authentication.
// OpenAI keys and ephemeral client secrets are both sent this way.
type Bearer string

// apply adds the Bearer token to the Authorization header.
func (b Bearer) apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

func (b Bearer) empty() bool { return strings.TrimSpace(string(b)) == "" }

// Config holds all configuration options for creating a realtime client.
type Config struct {
	// ResourceEndpoint is the base URL of the realtime service.
	// Azure: https://{resource-name}.openai.azure.com
	// OpenAI: https://api.openai.com
	// Required: Yes
	ResourceEndpoint string

	// Deployment is the Azure deployment name, or the model name when APIVersion is empty.
	// Required: Yes
	Deployment string

	// APIVersion selects the Azure URL layout (/openai/realtime?api-version=...).
	// Leave empty to use the OpenAI layout (/v1/realtime?model=...).
	// Required: No
	APIVersion string

	// Credential provides authentication for the handshake.
	// A missing or empty credential is reported as ErrMissingCredential.
	// Required: Yes
	Credential Credential

	// DialTimeout sets the maximum time to wait for the WebSocket handshake.
	// If zero, no timeout is applied beyond the caller's context.
	DialTimeout time.Duration

	// HandshakeHeaders allows adding custom headers to the WebSocket handshake request.
	HandshakeHeaders http.Header

	// Session is the initial session configuration sent right after connecting.
	// Zero fields fall back to DefaultSession().
	Session Session

	// Logger is called for significant events (ws_connected, bad_event_json, ...).
	Logger func(event string, fields map[string]any)

	// StructuredLogger provides leveled structured logging.
	// If both Logger and StructuredLogger are provided, StructuredLogger takes precedence.
	StructuredLogger *Logger
}

// ConfigFromEnv builds a Config from the process environment. Azure variables win
// when AZURE_OPENAI_ENDPOINT is set, otherwise the OpenAI endpoint is used.
// The returned config is not validated; pass it to ValidateConfig or Dial.
func ConfigFromEnv() Config {
	if endpoint := os.Getenv(EnvAzureEndpoint); endpoint != "" {
		return Config{
			ResourceEndpoint: endpoint,
			Deployment:       os.Getenv(EnvAzureDeployment),
			APIVersion:       envOr(EnvAzureAPIVersion, DefaultAzureVersion),
			Credential:       APIKey(os.Getenv(EnvAzureKey)),
			DialTimeout:      20 * time.Second,
		}
	}
	return Config{
		ResourceEndpoint: DefaultOpenAIURL,
		Deployment:       envOr(EnvOpenAIModel, DefaultOpenAIModel),
		Credential:       Bearer(os.Getenv(EnvOpenAIKey)),
		DialTimeout:      20 * time.Second,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// realtimeURL builds the WebSocket URL for the configured endpoint.
func (cfg Config) realtimeURL() (string, error) {
	u, err := url.Parse(cfg.ResourceEndpoint)
	if err != nil || u.Host == "" {
		return "", NewConfigError("ResourceEndpoint", cfg.ResourceEndpoint, "invalid URL format")
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws" // plain http, mainly for testing
	}

	q := url.Values{}
	if cfg.APIVersion != "" {
		u.Path = "/openai/realtime"
		q.Set("api-version", cfg.APIVersion)
		q.Set("deployment", cfg.Deployment)
	} else {
		u.Path = "/v1/realtime"
		q.Set("model", cfg.Deployment)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handshakeHeaders merges custom headers with the credential.
func (cfg Config) handshakeHeaders() http.Header {
	h := http.Header{}
	for k, vals := range cfg.HandshakeHeaders {
		for _, v := range vals {
			h.Add(k, v)
		}
	}
	if cfg.APIVersion == "" {
		h.Set("OpenAI-Beta", "realtime=v1")
	}
	if cfg.Credential != nil {
		cfg.Credential.apply(h)
	}
	return h
}

// AuthHeaders returns the credential headers for REST calls made with this
// config, such as minting session secrets.
func (cfg Config) AuthHeaders() http.Header {
	h := http.Header{}
	if cfg.Credential != nil {
		cfg.Credential.apply(h)
	}
	return h
}

// ValidateConfig checks cfg before any network call. A missing credential is
// a *ConfigError matching both ErrInvalidConfig and ErrMissingCredential.
func ValidateConfig(cfg Config) error {
	switch {
	case cfg.ResourceEndpoint == "":
		return NewConfigError("ResourceEndpoint", "", "cannot be empty")
	case cfg.Deployment == "":
		return NewConfigError("Deployment", "", "cannot be empty")
	case cfg.Credential == nil || cfg.Credential.empty():
		return NewConfigError("Credential", "", "cannot be empty")
	case cfg.DialTimeout < 0:
		return NewConfigError("DialTimeout", cfg.DialTimeout.String(), "cannot be negative")
	}
	if u, err := url.Parse(cfg.ResourceEndpoint); err != nil || u.Host == "" {
		return NewConfigError("ResourceEndpoint", cfg.ResourceEndpoint, "invalid URL format")
	}
	return nil
}
