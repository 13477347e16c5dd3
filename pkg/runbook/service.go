package runbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/merlinn-co/merlinn/pkg/alerts"
	"github.com/merlinn-co/merlinn/pkg/config"
)

const (
	defaultCacheTTL = time.Minute
	fetchTimeout    = 15 * time.Second
	maxRunbookBytes = 256 << 10
)

// detailKeys are incident detail fields that carry a runbook link, compared
// case-insensitively.
var detailKeys = []string{"runbook_url", "runbook", "runbookurl", "playbook_url", "playbook"}

// Service resolves runbook content for incidents.
type Service struct {
	cfg        *config.RunbookConfig
	httpClient *http.Client
	token      string
	cache      *Cache
	group      singleflight.Group
}

// NewService creates a Service. A nil cfg resolves every incident to "".
func NewService(cfg *config.RunbookConfig) *Service {
	if cfg == nil {
		cfg = &config.RunbookConfig{}
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: fetchTimeout},
		token:      cfg.GitHubToken(),
		cache:      NewCache(ttl, 0),
	}
}

// URLFor returns the runbook link in inc's details, or "".
func URLFor(inc *alerts.Incident) string {
	if inc == nil {
		return ""
	}
	for k, v := range inc.Details {
		key := strings.ToLower(k)
		v = strings.TrimSpace(v)
		for _, want := range detailKeys {
			if key == want && (strings.HasPrefix(v, "https://") || strings.HasPrefix(v, "http://")) {
				return v
			}
		}
	}
	return ""
}

// Resolve returns runbook content for inc, trying in order: the link carried
// by the alert, the configured default URL, the inline default. A fetch
// failure is returned; callers decide whether to continue without it.
func (s *Service) Resolve(ctx context.Context, inc *alerts.Incident) (string, error) {
	link := URLFor(inc)
	if link == "" {
		link = s.cfg.DefaultURL
	}
	if link == "" {
		return s.cfg.Default, nil
	}
	content, err := s.fetch(ctx, link)
	if err != nil {
		return "", fmt.Errorf("fetch runbook %s: %w", link, err)
	}
	return content, nil
}

func (s *Service) fetch(ctx context.Context, link string) (string, error) {
	if err := ValidateURL(link, s.cfg.AllowedDomains); err != nil {
		return "", err
	}

	rawURL := ConvertToRawURL(link)
	src := sourceOf(rawURL)
	if content, ok, err := s.cache.Get(src); ok {
		return content, err
	}

	v, err, _ := s.group.Do(string(src), func() (any, error) {
		content, err := s.download(ctx, rawURL)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code < http.StatusInternalServerError {
				s.cache.PutFailure(src, err)
			}
			return "", err
		}
		s.cache.Put(src, content)
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// statusError is a non-200 answer from the runbook host. Client errors are
// cached; server and transport errors are retried on the next alert.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.code) }

func (s *Service) download(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if s.token != "" && isGitHubHost(rawURL) {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRunbookBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	return string(body), nil
}

// isGitHubHost limits the token to GitHub so alert-supplied links cannot
// collect it.
func isGitHubHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Hostname()) {
	case "github.com", "www.github.com", "raw.githubusercontent.com":
		return true
	}
	return false
}
