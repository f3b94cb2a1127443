// CLAUDE:SUMMARY App credentials from the environment (.env + envconfig), with an enumerated ConfigError for missing names.
// Package credentials loads the Graph API application credentials from the
// process environment.
package credentials

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/hazyhaar/feedcast/platform"
)

// Credentials identify the Graph API application.
type Credentials struct {
	ClientID             string `envconfig:"FB_CLIENT_ID" required:"true" desc:"Graph API application id"`
	ClientSecret         string `envconfig:"FB_CLIENT_SECRET" required:"true" desc:"Graph API application secret"`
	RedirectURI          string `envconfig:"FB_REDIRECT_URI" required:"true" desc:"OAuth redirect URI registered for Facebook login"`
	InstagramRedirectURI string `envconfig:"INSTA_REDIRECT_URI" desc:"OAuth redirect URI for Instagram (defaults to FB_REDIRECT_URI)"`
}

// ConfigError lists every required variable that was not set.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credentials: missing required environment variables: %s", strings.Join(e.Missing, ", "))
}

// LoadDotenv loads KEY=VALUE pairs from the given files (default ".env")
// into the environment. Variables already set win. Missing files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("credentials: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the credentials from the environment. All missing required
// variables are reported together in a *ConfigError.
func Load() (*Credentials, error) {
	if missing := missingRequired(); len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}
	var c Credentials
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	if c.InstagramRedirectURI == "" {
		c.InstagramRedirectURI = c.RedirectURI
	}
	return &c, nil
}

// RedirectURIFor returns the redirect URI registered for p.
func (c *Credentials) RedirectURIFor(p platform.Platform) string {
	if p == platform.Instagram && c.InstagramRedirectURI != "" {
		return c.InstagramRedirectURI
	}
	return c.RedirectURI
}

// AppAccessToken is the "id|secret" app token accepted by debug_token.
func (c *Credentials) AppAccessToken() string {
	if c == nil || c.ClientID == "" || c.ClientSecret == "" {
		return ""
	}
	return c.ClientID + "|" + c.ClientSecret
}

// Usage writes the recognised variables as a table.
func Usage(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef("", &Credentials{}, tw, envconfig.DefaultTableFormat); err != nil {
		return err
	}
	return tw.Flush()
}

// missingRequired walks the required tags so the error can name every
// absent variable at once (envconfig stops at the first).
func missingRequired() []string {
	var missing []string
	t := reflect.TypeOf(Credentials{})
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Tag.Get("required") != "true" {
			continue
		}
		key := f.Tag.Get("envconfig")
		if v, ok := os.LookupEnv(key); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
