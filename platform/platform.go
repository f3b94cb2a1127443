// Package platform names the two publishing surfaces and the Graph API
// permissions each one needs.
package platform

import (
	"errors"
	"fmt"
	"strings"
)

// Platform identifies a publishing surface.
type Platform string

const (
	Facebook  Platform = "facebook"
	Instagram Platform = "instagram"
)

// ErrUnknown is returned by Parse for anything other than facebook or instagram.
var ErrUnknown = errors.New("platform: unknown platform")

// All returns every supported platform in publishing order.
func All() []Platform {
	return []Platform{Facebook, Instagram}
}

// Parse accepts a platform name, case-insensitively.
func Parse(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "facebook", "fb":
		return Facebook, nil
	case "instagram", "insta", "ig":
		return Instagram, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, s)
}

// ParseList parses a comma separated list. An empty string means All.
func ParseList(s string) ([]Platform, error) {
	if strings.TrimSpace(s) == "" || strings.EqualFold(strings.TrimSpace(s), "all") {
		return All(), nil
	}
	var out []Platform
	seen := make(map[Platform]bool)
	for _, part := range strings.Split(s, ",") {
		p, err := Parse(part)
		if err != nil {
			return nil, err
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (p Platform) String() string { return string(p) }

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == Facebook || p == Instagram
}

// Scopes returns the OAuth scopes requested from the authorization dialog.
func (p Platform) Scopes() []string {
	switch p {
	case Instagram:
		return []string{
			"instagram_basic",
			"instagram_content_publish",
			"pages_show_list",
			"pages_read_engagement",
			"instagram_manage_insights",
		}
	default:
		return []string{
			"email",
			"public_profile",
			"pages_show_list",
			"pages_read_engagement",
			"pages_manage_posts",
		}
	}
}

// PostingPermissions lists the scopes a token must carry to publish.
func (p Platform) PostingPermissions() []string {
	if p == Instagram {
		return []string{"instagram_content_publish", "instagram_manage_insights"}
	}
	return []string{"pages_manage_posts", "pages_manage_engagement"}
}
