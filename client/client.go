package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"

	"github.com/totegamma/sharedbag"
	"github.com/totegamma/sharedbag/internal/domain"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "sharedbag/1.0"
)

// walletPaths are the places an embedded wallet address shows up in the
// provider's response, in order of preference.
var walletPaths = []string{
	"walletAddress",
	"user.wallets.0.publicKey",
	`user.verifiedCredentials.#(format=="blockchain").address`,
	"wallets.0.address",
	"address",
}

// Client talks to the embedded-wallet provider.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	userAgent string
	baseURL   string
	apiKey    string
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient := http.Client{
		Timeout: timeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return http.DefaultTransport.RoundTrip(req)
}

type createWalletBody struct {
	Identifier     string   `json:"identifier"`
	Type           string   `json:"type"`
	Chains         []string `json:"chains"`
	Chain          string   `json:"chain"`
	SocialProvider string   `json:"socialProvider"`
}

// CreateEmbeddedWallet provisions (or fetches) the wallet bound to email.
// The provider is deterministic per email, so results are cached.
func (c *Client) CreateEmbeddedWallet(ctx context.Context, environmentID, email string) (sharedbag.EmbeddedWallet, error) {

	cacheKey := "wallet:" + environmentID + ":" + strings.ToLower(email)
	if x, found := c.cache.Get(cacheKey); found {
		return x.(sharedbag.EmbeddedWallet), nil
	}

	body, err := json.Marshal(createWalletBody{
		Identifier:     email,
		Type:           "email",
		Chains:         []string{"EVM"},
		Chain:          "EVM",
		SocialProvider: "emailOnly",
	})
	if err != nil {
		return sharedbag.EmbeddedWallet{}, fmt.Errorf("failed to encode request: %v", err)
	}

	endpoint := c.baseURL + "/environments/" + url.PathEscape(environmentID) + "/embeddedWallets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return sharedbag.EmbeddedWallet{}, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return sharedbag.EmbeddedWallet{}, fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return sharedbag.EmbeddedWallet{}, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := gjson.GetBytes(raw, "message").String()
		if message == "" {
			message = "Failed to create embedded wallet"
		}
		return sharedbag.EmbeddedWallet{}, &domain.UpstreamError{Status: resp.StatusCode, Message: message}
	}

	if !gjson.ValidBytes(raw) {
		return sharedbag.EmbeddedWallet{}, fmt.Errorf("failed to decode response: invalid json")
	}

	wallet := sharedbag.EmbeddedWallet{Upstream: json.RawMessage(raw)}
	for _, path := range walletPaths {
		if v := gjson.GetBytes(raw, path); v.Exists() && sharedbag.IsAddress(v.String()) {
			wallet.WalletAddress = v.String()
			break
		}
	}
	if wallet.WalletAddress == "" {
		return sharedbag.EmbeddedWallet{}, fmt.Errorf("wallet address missing from provider response")
	}

	c.cache.Set(cacheKey, wallet, cache.DefaultExpiration)

	return wallet, nil
}
