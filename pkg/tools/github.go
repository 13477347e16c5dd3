package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/merlinn-co/merlinn/pkg/models"
	"github.com/merlinn-co/merlinn/pkg/version"
)

const (
	githubCommitsSchema = `{"type":"object","properties":{
		"repo":{"type":"string","description":"repository name, optionally owner/repo"},
		"lookback":{"type":"string","description":"Go duration, e.g. 24h (default 24h)"},
		"path":{"type":"string","description":"only commits touching this path"}},
		"required":["repo"]}`
	githubPullsSchema = `{"type":"object","properties":{
		"repo":{"type":"string","description":"repository name, optionally owner/repo"}},
		"required":["repo"]}`
)

// GithubLoader builds change-history tools. Credentials "access_token";
// metadata "owner" is the default org/user and "api_url" targets GitHub
// Enterprise.
func GithubLoader(ctx context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	token := in.Credential("access_token")
	if token == "" {
		return nil, errors.New("github integration has no access_token")
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	httpClient.Timeout = vendorHTTPTimeout
	client := github.NewClient(httpClient)
	if base := in.MetadataString("api_url"); base != "" {
		var err error
		if client, err = client.WithEnterpriseURLs(base, base); err != nil {
			return nil, fmt.Errorf("github api_url: %w", err)
		}
	}
	client.UserAgent = version.UserAgent()
	gh := &githubTools{
		client: client,
		owner:  in.MetadataString("owner"),
		now:    time.Now,
	}
	return []Tool{
		&FuncTool{
			ToolName:        "github_recent_commits",
			ToolDescription: "List recent commits of a GitHub repository to correlate deploys with the alert.",
			Schema:          json.RawMessage(githubCommitsSchema),
			Fn:              gh.recentCommits,
		},
		&FuncTool{
			ToolName:        "github_recent_pull_requests",
			ToolDescription: "List the most recently merged pull requests of a GitHub repository.",
			Schema:          json.RawMessage(githubPullsSchema),
			Fn:              gh.recentPulls,
		},
	}, nil
}

type githubTools struct {
	client *github.Client
	owner  string
	now    func() time.Time
}

// ownerRepo splits "owner/repo", falling back to the integration's owner.
func (g *githubTools) ownerRepo(repo string) (string, string, error) {
	if repo == "" {
		return "", "", errors.New("repo is required")
	}
	if owner, name, ok := strings.Cut(repo, "/"); ok {
		return owner, name, nil
	}
	if g.owner == "" {
		return "", "", errors.New("repo must be owner/repo when the integration has no owner")
	}
	return g.owner, repo, nil
}

// githubError keeps the status code of API failures visible to the agent.
func githubError(err error) error {
	var apiErr *github.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return fmt.Errorf("%s returned %d: %s", models.VendorGithub, apiErr.Response.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("%s request: %w", models.VendorGithub, err)
}

type commitSummary struct {
	SHA     string    `json:"sha"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

func (g *githubTools) recentCommits(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Repo     string `json:"repo"`
		Lookback string `json:"lookback"`
		Path     string `json:"path"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	owner, repo, err := g.ownerRepo(args.Repo)
	if err != nil {
		return "", err
	}
	lookback, err := parseDurationDefault(args.Lookback, 24*time.Hour)
	if err != nil {
		return "", fmt.Errorf("invalid lookback: %w", err)
	}

	commits, _, err := g.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		Path:        args.Path,
		Since:       g.now().Add(-lookback).UTC(),
		ListOptions: github.ListOptions{PerPage: 30},
	})
	if err != nil {
		return "", githubError(err)
	}

	out := make([]commitSummary, 0, len(commits))
	for _, c := range commits {
		sha := c.GetSHA()
		if len(sha) > 12 {
			sha = sha[:12]
		}
		author := c.GetCommit().GetAuthor()
		out = append(out, commitSummary{
			SHA:     sha,
			Author:  author.GetName(),
			Date:    author.GetDate().Time,
			Message: firstLine(c.GetCommit().GetMessage()),
		})
	}
	return toJSON(out)
}

func (g *githubTools) recentPulls(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Repo string `json:"repo"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	owner, repo, err := g.ownerRepo(args.Repo)
	if err != nil {
		return "", err
	}

	pulls, _, err := g.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "closed",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		return "", githubError(err)
	}

	type pullSummary struct {
		Number   int       `json:"number"`
		Title    string    `json:"title"`
		Author   string    `json:"author"`
		MergedAt time.Time `json:"mergedAt"`
		URL      string    `json:"url"`
	}
	out := make([]pullSummary, 0, len(pulls))
	for _, p := range pulls {
		if p.MergedAt == nil {
			continue
		}
		out = append(out, pullSummary{
			Number:   p.GetNumber(),
			Title:    p.GetTitle(),
			Author:   p.GetUser().GetLogin(),
			MergedAt: p.GetMergedAt().Time,
			URL:      p.GetHTMLURL(),
		})
	}
	return toJSON(out)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
