package mongostore

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

// Environment variable names.
const (
	EnvURI      = "MONGO_URI"
	EnvUser     = "MONGO_USER"
	EnvPassword = "MONGO_PASSWORD"
	EnvAppEnv   = "APP_ENV"
)

// Defaults.
const (
	DefaultURI      = "mongodb://localhost:27017/commerce_db"
	DefaultAppEnv   = "development"
	DefaultDatabase = "commerce_db"
)

// Config holds connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	AppEnv   string
}

// LoadConfig reads connection settings through lookup. Empty values count as unset.
func LoadConfig(lookup func(string) (string, bool)) Config {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	return Config{
		URI:      get(EnvURI, DefaultURI),
		User:     get(EnvUser, ""),
		Password: get(EnvPassword, ""),
		AppEnv:   get(EnvAppEnv, DefaultAppEnv),
	}
}

// Database returns the database named in the URI path, or DefaultDatabase.
func (c Config) Database() (string, error) {
	cs, err := connstring.ParseAndValidate(c.URI)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", EnvURI, err)
	}
	if cs.Database == "" {
		return DefaultDatabase, nil
	}
	return cs.Database, nil
}

// Redacted returns the URI with any password replaced, for logging.
// The password is located in the raw authority, so escaped and unparseable
// URIs are masked as well.
func (c Config) Redacted() string {
	prefix, rest := "", c.URI
	if scheme, after, ok := strings.Cut(c.URI, "://"); ok {
		prefix, rest = scheme+"://", after
	}
	authority := rest
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		authority = rest[:i]
	}
	at := strings.LastIndex(authority, "@")
	if at < 0 {
		return c.URI
	}
	user, _, hasPassword := strings.Cut(authority[:at], ":")
	if !hasPassword {
		return c.URI
	}
	return prefix + user + ":xxxxx" + rest[at:]
}
