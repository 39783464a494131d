// Package reddit implements content.Source against the Reddit JSON API.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/botradar/bot_radar/pkg/config"
	"github.com/botradar/bot_radar/pkg/content"
	"github.com/botradar/bot_radar/pkg/logger"
	"github.com/botradar/bot_radar/pkg/model"
)

const (
	defaultAuthBase   = "https://oauth.reddit.com"
	defaultPublicBase = "https://www.reddit.com"
	defaultTokenURL   = "https://www.reddit.com/api/v1/access_token"
	defaultUserAgent  = "bot_radar/1.0"

	// tokens are refreshed this long before Reddit's stated expiry
	tokenExpirySlack = 60 * time.Second
)

// Client is a Reddit API client. The OAuth token lives inside the client with
// its own expiry check; when the authenticated path fails the client falls
// back to the public JSON endpoints transparently.
type Client struct {
	cfg    config.RedditConfig
	client *http.Client

	authBase   string
	publicBase string
	tokenURL   string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// Ensure Client implements content.Source
var _ content.Source = (*Client)(nil)

// NewClient creates a Reddit client. Empty credentials restrict it to the
// public endpoints.
func NewClient(cfg config.RedditConfig) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &Client{
		cfg:        cfg,
		client:     &http.Client{Timeout: 30 * time.Second},
		authBase:   defaultAuthBase,
		publicBase: defaultPublicBase,
		tokenURL:   defaultTokenURL,
	}
}

// FetchUserItems implements content.Source.
func (c *Client) FetchUserItems(ctx context.Context, userID string, limit int) ([]*model.ContentItem, error) {
	if limit <= 0 || limit > content.MaxFetchLimit {
		limit = content.MaxFetchLimit
	}

	path := fmt.Sprintf("/user/%s/overview", url.PathEscape(userID))
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("raw_json", "1")

	body, err := c.get(ctx, path, q)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, err)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	items := make([]*model.ContentItem, 0, len(l.Data.Children))
	for _, th := range l.Data.Children {
		if it := th.toItem(); it != nil {
			items = append(items, it)
		}
	}
	return items, nil
}

// FetchParent implements content.Source. It resolves the item by fullname,
// then its parent reference; (nil, nil) means the chain ends here.
func (c *Client) FetchParent(ctx context.Context, itemID string) (*model.ContentItem, error) {
	child, err := c.fetchInfo(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if child == nil || child.ParentID == "" {
		return nil, nil
	}
	return c.fetchInfo(ctx, child.ParentID)
}

// fetchInfo looks up a single thing by fullname.
func (c *Client) fetchInfo(ctx context.Context, fullname string) (*model.ContentItem, error) {
	q := url.Values{}
	q.Set("id", fullname)
	q.Set("raw_json", "1")

	body, err := c.get(ctx, "/api/info", q)
	if err != nil {
		return nil, fmt.Errorf("fetch info %s: %w", fullname, err)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	if len(l.Data.Children) == 0 {
		return nil, nil
	}
	return l.Data.Children[0].toItem(), nil
}

// get performs an authenticated GET, falling back to the public endpoint when
// auth is unavailable or the authenticated call fails.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		logger.Log.Warnf("reddit token fetch failed, using public endpoints: %v", err)
		token = ""
	}

	if token != "" {
		body, err := c.doGet(ctx, c.authBase+path, q, token)
		if err == nil {
			return body, nil
		}
		logger.Log.Warnf("reddit authenticated call failed, retrying public: %v", err)
	}

	// public listing endpoints want the .json suffix
	return c.doGet(ctx, c.publicBase+path+".json", q, "")
}

func (c *Client) doGet(ctx context.Context, rawURL string, q url.Values, token string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit api error (status %d): %s", res.StatusCode, string(body))
	}
	return body, nil
}

// accessToken returns the cached client-credentials token, refreshing it when
// missing or near expiry. Returns "" without error when no credentials are
// configured.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request failed: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read token body failed: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token error (status %d): %s", res.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}

	c.token = tr.AccessToken
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > tokenExpirySlack {
		ttl -= tokenExpirySlack
	}
	c.tokenExpiry = time.Now().Add(ttl)

	return c.token, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// listing mirrors Reddit's Listing envelope.
type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

// thing is one kinded entry: t1 comments, t3 posts.
type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

type thingData struct {
	Name       string  `json:"name"`
	Body       string  `json:"body"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	ParentID   string  `json:"parent_id"`
	Subreddit  string  `json:"subreddit"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

// toItem maps a Reddit thing onto the domain item. Deleted/removed content
// and unknown kinds map to nil.
func (t thing) toItem() *model.ContentItem {
	d := t.Data
	it := &model.ContentItem{
		ID:        d.Name,
		Subreddit: d.Subreddit,
		Permalink: d.Permalink,
		Score:     d.Score,
		CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
	}

	switch t.Kind {
	case "t1":
		it.Body = d.Body
		it.ParentID = d.ParentID
	case "t3":
		it.IsPost = true
		it.Body = strings.TrimSpace(d.Title + "\n\n" + d.Selftext)
		it.URL = d.URL
	default:
		return nil
	}

	trimmed := strings.TrimSpace(it.Body)
	if trimmed == "[deleted]" || trimmed == "[removed]" {
		return nil
	}
	return it
}
