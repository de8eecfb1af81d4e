package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// Demo trading runs against a dedicated host the SDK has no constant for.
const demoBaseURL = "https://api-demo.bybit.com"

// Client owns the authenticated SDK session against one Bybit
// environment (mainnet, testnet, or demo paper trading).
type Client struct {
	httpClient *bybit_api.Client
	env        string
}

// Config selects the credentials and environment for a client.
// Credentials come from the environment, never from config files.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
}

func NewClient(config Config) *Client {
	env := "mainnet"
	baseURL := bybit_api.MAINNET
	switch {
	case config.Demo:
		env = "demo"
		baseURL = demoBaseURL
	case config.Testnet:
		env = "testnet"
		baseURL = bybit_api.TESTNET
	}

	return &Client{
		httpClient: bybit_api.NewBybitHttpClient(
			config.APIKey,
			config.APISecret,
			bybit_api.WithBaseURL(baseURL),
		),
		env: env,
	}
}

// Environment names the selected environment for logs and tables.
func (c *Client) Environment() string {
	return c.env
}

func (c *Client) IsDemo() bool {
	return c.env == "demo"
}

func (c *Client) IsTestnet() bool {
	return c.env == "testnet"
}
