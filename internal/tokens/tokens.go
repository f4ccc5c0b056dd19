package tokens

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
	// Prime wallet that funds disbursements and receives repayments
	WalletId string `yaml:"prime_wallet_id"`
}

type Chain struct {
	Name            string  `yaml:"name"`
	ChainId         int64   `yaml:"chain_id"`
	NetworkType     string  `yaml:"network_type"`
	TreasuryAddress string  `yaml:"treasury_address"`
	Tokens          []Token `yaml:"tokens"`
}

type file struct {
	Chains []Chain `yaml:"chains"`
}

// Registry is the set of supported (token, chain) pairs. It is read-only
// after Load and safe for concurrent use.
type Registry struct {
	chains map[string]Chain
	tokens map[string]Token
	order  []string
}

func key(symbol, chain string) string {
	return strings.ToUpper(symbol) + "-" + strings.ToLower(chain)
}

// Load reads a tokens file relative to the working directory unless absolute.
func Load(tokensFile string) (*Registry, error) {
	path := tokensFile
	if !filepath.IsAbs(tokensFile) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, tokensFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", tokensFile, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unable to parse tokens: %w", err)
	}
	return New(f.Chains)
}

func New(chains []Chain) (*Registry, error) {
	r := &Registry{
		chains: make(map[string]Chain),
		tokens: make(map[string]Token),
	}

	for i, c := range chains {
		if c.Name == "" {
			return nil, fmt.Errorf("chain at index %d missing name", i)
		}
		if c.TreasuryAddress == "" {
			return nil, fmt.Errorf("chain %s missing treasury_address", c.Name)
		}
		name := strings.ToLower(c.Name)
		if _, dup := r.chains[name]; dup {
			return nil, fmt.Errorf("duplicate chain %s", c.Name)
		}
		r.chains[name] = c

		for j, t := range c.Tokens {
			if t.Symbol == "" {
				return nil, fmt.Errorf("token at index %d on %s missing symbol", j, c.Name)
			}
			if t.Decimals < 0 || t.Decimals > 18 {
				return nil, fmt.Errorf("token %s on %s has invalid decimals %d", t.Symbol, c.Name, t.Decimals)
			}
			r.tokens[key(t.Symbol, name)] = t
			r.order = append(r.order, key(t.Symbol, name))
		}
	}

	return r, nil
}

// Lookup returns the token definition for a symbol on a chain.
func (r *Registry) Lookup(symbol, chain string) (Token, bool) {
	t, ok := r.tokens[key(symbol, chain)]
	return t, ok
}

func (r *Registry) Chain(name string) (Chain, bool) {
	c, ok := r.chains[strings.ToLower(name)]
	return c, ok
}

// Decimals returns the token precision, or false if the pair is unsupported.
func (r *Registry) Decimals(symbol, chain string) (int32, bool) {
	t, ok := r.Lookup(symbol, chain)
	return t.Decimals, ok
}

// Treasury returns the address repayments must be sent to on a chain.
func (r *Registry) Treasury(chain string) (string, bool) {
	c, ok := r.Chain(chain)
	return c.TreasuryAddress, ok && c.TreasuryAddress != ""
}

// Pairs lists supported pairs as SYMBOL-chain in file order.
func (r *Registry) Pairs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// WalletIds returns every configured Prime wallet id, deduplicated.
func (r *Registry) WalletIds() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, k := range r.order {
		id := r.tokens[k].WalletId
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
