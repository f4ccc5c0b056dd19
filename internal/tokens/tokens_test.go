package tokens

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `
chains:
  - name: ethereum
    chain_id: 1
    network_type: mainnet
    treasury_address: "0xtreasury-eth"
    tokens:
      - symbol: USDC
        address: "0xa0b8"
        decimals: 6
        prime_wallet_id: wallet-usdc
      - symbol: DAI
        address: "0x6b17"
        decimals: 18
        prime_wallet_id: wallet-dai
  - name: polygon
    chain_id: 137
    network_type: mainnet
    treasury_address: "0xtreasury-poly"
    tokens:
      - symbol: USDC
        address: "0x2791"
        decimals: 6
        prime_wallet_id: wallet-usdc
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		symbol, chain string
		decimals      int32
		ok            bool
	}{
		{"USDC", "ethereum", 6, true},
		{"usdc", "Polygon", 6, true},
		{"DAI", "ethereum", 18, true},
		{"DAI", "polygon", 0, false},
		{"USDT", "ethereum", 0, false},
	}
	for _, tt := range tests {
		d, ok := r.Decimals(tt.symbol, tt.chain)
		if ok != tt.ok || d != tt.decimals {
			t.Errorf("Decimals(%s, %s) = %d, %v; want %d, %v", tt.symbol, tt.chain, d, ok, tt.decimals, tt.ok)
		}
	}

	if addr, ok := r.Treasury("polygon"); !ok || addr != "0xtreasury-poly" {
		t.Errorf("Treasury(polygon) = %q, %v", addr, ok)
	}
	if ids := r.WalletIds(); len(ids) != 2 {
		t.Errorf("WalletIds() = %v, want 2 distinct ids", ids)
	}
	if pairs := r.Pairs(); len(pairs) != 3 || pairs[0] != "USDC-ethereum" {
		t.Errorf("Pairs() = %v", pairs)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing chain name", "chains:\n  - treasury_address: x\n"},
		{"missing treasury", "chains:\n  - name: ethereum\n"},
		{"missing symbol", "chains:\n  - name: ethereum\n    treasury_address: x\n    tokens:\n      - decimals: 6\n"},
		{"bad decimals", "chains:\n  - name: ethereum\n    treasury_address: x\n    tokens:\n      - symbol: USDC\n        decimals: 40\n"},
		{"duplicate chain", "chains:\n  - name: ethereum\n    treasury_address: x\n  - name: Ethereum\n    treasury_address: y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := r.Lookup("USDC", "ethereum"); !ok {
		t.Error("USDC-ethereum should be supported")
	}
}
