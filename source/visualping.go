package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/feedcast/content"
	"github.com/hazyhaar/feedcast/horosafe"
)

// DefaultVisualPingBaseURL is the VisualPing API root.
const DefaultVisualPingBaseURL = "https://api.visualping.io/v1"

var visualIndicators = []string{"visual", "image", "layout", "design"}

// VisualPing turns a VisualPing check into a single content item. The
// FetchOptions URL is the check id. Without an API key, or when the API
// call fails, a placeholder item is returned.
type VisualPing struct {
	client  *http.Client
	baseURL string
	key     string
	logger  *slog.Logger
	now     func() time.Time
}

// NewVisualPing returns a VisualPing source.
func NewVisualPing(opts Options) *VisualPing {
	opts.defaults()
	return &VisualPing{
		client:  opts.HTTPClient,
		baseURL: strings.TrimRight(opts.VisualPingBaseURL, "/"),
		key:     opts.VisualPingKey,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// Kind returns "visualping".
func (s *VisualPing) Kind() string { return KindVisualPing }

// ValidateURL accepts any well-formed check id.
func (s *VisualPing) ValidateURL(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty visualping check id", ErrInvalidURL)
	}
	if err := horosafe.ValidateKey(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return nil
}

// Fetch returns at most one item for the check id in opts.URL.
func (s *VisualPing) Fetch(ctx context.Context, opts FetchOptions) ([]content.Item, error) {
	id := strings.TrimSpace(opts.URL)
	if err := s.ValidateURL(ctx, id); err != nil {
		return nil, err
	}
	if s.key == "" {
		return []content.Item{s.mock(id)}, nil
	}

	check, err := s.check(ctx, id)
	if err != nil {
		s.logger.Warn("source: visualping lookup failed, using placeholder", "check", id, "error", err)
		return []content.Item{s.mock(id)}, nil
	}
	if opts.RequireMedia && !check.hasVisualMedia() {
		return nil, nil
	}
	return []content.Item{s.item(id, check)}, nil
}

type vpCheck map[string]any

func (s *VisualPing) check(ctx context.Context, id string) (vpCheck, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/checks/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.key)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("visualping: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var env struct {
		Check vpCheck `json:"check"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("visualping: decode: %w", err)
	}
	if env.Check == nil {
		env.Check = vpCheck{}
	}
	return env.Check, nil
}

func (c vpCheck) str(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c vpCheck) percentage() float64 {
	switch v := c["change_percentage"].(type) {
	case float64:
		return v
	case string:
		var f float64
		fmt.Sscanf(v, "%g", &f)
		return f
	}
	return 0
}

func (c vpCheck) hasVisualMedia() bool {
	ct := strings.ToLower(c.str("change_type"))
	for _, ind := range visualIndicators {
		if strings.Contains(ct, ind) {
			return true
		}
	}
	if c.percentage() > 5 {
		return true
	}
	_, shot := c["screenshot"]
	_, before := c["before_screenshot"]
	return shot || before
}

// screenshotURL accepts either a bare URL or an object with a url member.
func (c vpCheck) screenshotURL() string {
	for _, key := range []string{"screenshot", "before_screenshot"} {
		switch v := c[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if u, ok := v["url"].(string); ok && u != "" {
				return u
			}
		}
	}
	return ""
}

func (s *VisualPing) item(id string, c vpCheck) content.Item {
	state := c.str("state")
	if state == "" {
		state = "unknown"
	}
	pageURL := c.str("url")
	if pageURL == "" {
		pageURL = "https://visualping.io/check/" + id
	}
	domain := domainOf(pageURL)
	detected := c.str("detected_at")
	if detected == "" {
		detected = s.now().Format(time.RFC3339)
	}
	changeType := c.str("change_type")
	if changeType == "" {
		changeType = "unknown"
	}
	visual := c.hasVisualMedia()

	var b strings.Builder
	if state == "changed" {
		if visual {
			fmt.Fprintf(&b, "Visual content change detected on %s\n\n", pageURL)
		} else {
			fmt.Fprintf(&b, "Content change detected on %s\n\n", pageURL)
		}
		fmt.Fprintf(&b, "Change type: %s\n", changeType)
		fmt.Fprintf(&b, "Change percentage: %g%%\n", c.percentage())
		fmt.Fprintf(&b, "Detected at: %s", detected)
		if visual {
			b.WriteString("\n\nVisual changes detected in this update")
		}
	} else {
		fmt.Fprintf(&b, "No significant visual changes detected on %s", pageURL)
	}

	it := content.New(fmt.Sprintf("VisualPing Alert: %s - %s", capitalize(state), domain), b.String(), s.now())
	it.Author = "VisualPing"
	it.SourceURL = pageURL
	it.SourceDomain = domain
	it.Source = KindVisualPing
	if visual {
		it.MediaURL = c.screenshotURL()
	}
	if ts, err := time.Parse(time.RFC3339, detected); err == nil {
		it.PublishedAt = &ts
	}
	return it
}

func (s *VisualPing) mock(id string) content.Item {
	pageURL := "https://example.com/" + id
	it := content.New(
		"VisualPing Alert for "+id,
		"Content change detected on monitored URL "+pageURL+"\n\n"+
			"Placeholder item: no VisualPing data was retrieved for this check.",
		s.now(),
	)
	it.Author = "VisualPing"
	it.SourceURL = pageURL
	it.SourceDomain = domainOf(pageURL)
	it.Source = KindVisualPing
	return it
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
