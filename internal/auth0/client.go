package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

var ErrUserInfoFailed = errors.New("failed to fetch user info")

// UserInfo is the subset of the /userinfo response used to fill a member
// profile.
type UserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Nickname      string `json:"nickname"`
}

// DisplayName prefers the full name and falls back to the nickname.
func (u *UserInfo) DisplayName() string {
	if u.Name != "" && u.Name != u.Email {
		return u.Name
	}
	return u.Nickname
}

type Client interface {
	GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

// HTTPClient calls the tenant's /userinfo endpoint. Auth0 rate limits that
// endpoint per user, so answers are kept for cacheTTL per access token.
type HTTPClient struct {
	domain     string
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedUserInfo
}

type cachedUserInfo struct {
	info    *UserInfo
	expires time.Time
}

const cacheTTL = 5 * time.Minute

func NewHTTPClient(domain string) *HTTPClient {
	return &HTTPClient{
		domain: domain,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: make(map[string]cachedUserInfo),
	}
}

func (c *HTTPClient) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	now := time.Now()
	c.mu.Lock()
	if hit, ok := c.cache[accessToken]; ok && now.Before(hit.expires) {
		c.mu.Unlock()
		return hit.info, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+c.domain+"/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUserInfoFailed, resp.StatusCode)
	}

	info := new(UserInfo)
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserInfoFailed, err)
	}

	c.mu.Lock()
	for token, hit := range c.cache {
		if now.After(hit.expires) {
			delete(c.cache, token)
		}
	}
	c.cache[accessToken] = cachedUserInfo{info: info, expires: now.Add(cacheTTL)}
	c.mu.Unlock()

	return info, nil
}
