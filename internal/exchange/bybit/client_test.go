package bybit

import "testing"

func TestClientEnvironmentSelection(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		env     string
		demo    bool
		testnet bool
	}{
		{"mainnet by default", Config{}, "mainnet", false, false},
		{"testnet", Config{Testnet: true}, "testnet", false, true},
		{"demo", Config{Demo: true}, "demo", true, false},
		{"demo wins over testnet", Config{Demo: true, Testnet: true}, "demo", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.config)
			if got := c.Environment(); got != tt.env {
				t.Errorf("Environment() = %q, expected %q", got, tt.env)
			}
			if got := c.IsDemo(); got != tt.demo {
				t.Errorf("IsDemo() = %v, expected %v", got, tt.demo)
			}
			if got := c.IsTestnet(); got != tt.testnet {
				t.Errorf("IsTestnet() = %v, expected %v", got, tt.testnet)
			}
		})
	}
}
