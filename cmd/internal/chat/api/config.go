package chatapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"chatgate/cmd/internal/share"
)

// Config controls chat API transport behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// PublicBaseURL prefixes share links. When empty it is derived from the request.
	PublicBaseURL string
	ShareMaxAge   time.Duration

	SessionCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	RedeemMax    int
	RedeemWindow time.Duration

	// WSOriginPatterns authorizes cross-origin WebSocket upgrades (host patterns).
	WSOriginPatterns []string
	WSWriteTimeout   time.Duration
}

// DefaultConfig returns the configuration used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		ShareMaxAge:       share.DefaultMaxAge,
		SessionCookieName: "chatgate_session",
		CookiePath:        "/",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteLaxMode,
		RedeemMax:         10,
		RedeemWindow:      10 * time.Minute,
		WSWriteTimeout:    10 * time.Second,
	}
}

// LoadConfigFromEnv loads chat API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:        envBool("CHATGATE_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("CHATGATE_MAX_BODY_BYTES", def.MaxBodyBytes),
		PublicBaseURL:     strings.TrimRight(envString("CHATGATE_PUBLIC_BASE_URL", ""), "/"),
		ShareMaxAge:       envDuration("CHATGATE_SHARE_MAX_AGE", def.ShareMaxAge),
		SessionCookieName: envString("CHATGATE_SESSION_COOKIE", def.SessionCookieName),
		CookiePath:        envString("CHATGATE_COOKIE_PATH", def.CookiePath),
		CookieDomain:      envString("CHATGATE_COOKIE_DOMAIN", ""),
		CookieSecure:      envBool("CHATGATE_COOKIE_SECURE", def.CookieSecure),
		CookieSameSite:    parseSameSite(envString("CHATGATE_COOKIE_SAMESITE", "lax")),
		RedeemMax:         envInt("CHATGATE_REDEEM_MAX", def.RedeemMax),
		RedeemWindow:      envDuration("CHATGATE_REDEEM_WINDOW", def.RedeemWindow),
		WSOriginPatterns:  envList("CHATGATE_WS_ORIGIN_PATTERNS"),
		WSWriteTimeout:    envDuration("CHATGATE_WS_WRITE_TIMEOUT", def.WSWriteTimeout),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.ShareMaxAge <= 0 {
		cfg.ShareMaxAge = def.ShareMaxAge
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = def.SessionCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.RedeemMax <= 0 {
		cfg.RedeemMax = def.RedeemMax
	}
	if cfg.RedeemWindow <= 0 {
		cfg.RedeemWindow = def.RedeemWindow
	}
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = def.WSWriteTimeout
	}
	// SameSite=None is rejected by browsers without Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	return cfg
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
