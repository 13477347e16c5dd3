package runbook

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// githubBlobPattern matches https://github.com/{owner}/{repo}/{blob|tree}/{ref}/{path...}
var githubBlobPattern = regexp.MustCompile(`^/([^/]+)/([^/]+)/(blob|tree)/([^/]+)(?:/(.*))?$`)

// ConvertToRawURL turns a GitHub blob URL into its raw.githubusercontent.com
// form. Any other URL is returned unchanged.
func ConvertToRawURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.Host != "github.com" && parsed.Host != "www.github.com" {
		return rawURL
	}

	m := githubBlobPattern.FindStringSubmatch(parsed.Path)
	if m == nil {
		return rawURL
	}
	owner, repo, ref, path := m[1], m[2], m[4], m[5]
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/refs/heads/%s/%s", owner, repo, ref, path)
}

// ValidateURL checks the scheme and, when allowedDomains is non-empty, that
// the host is one of them (a "www." prefix is tolerated).
func ValidateURL(rawURL string, allowedDomains []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid scheme %q: only http and https allowed", parsed.Scheme)
	}
	if len(allowedDomains) == 0 {
		return nil
	}

	host := strings.ToLower(parsed.Hostname())
	for _, domain := range allowedDomains {
		if host == domain || host == "www."+domain {
			return nil
		}
	}
	return fmt.Errorf("domain %q not in allowed list", host)
}
