package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// SupportedCurrencyCodes lists the codes the contract is expected to emit.
var SupportedCurrencyCodes = []string{"USD", "EUR", "GBP", "SGD"}

// CurrencyResolver decodes the currencyCode event field. Indexed strings are
// stored on-chain only as keccak256(code), so only codes known in advance can be
// recovered.
type CurrencyResolver struct {
	byHash map[common.Hash]string
}

// NewCurrencyResolver precomputes the hash of every supported code.
func NewCurrencyResolver(codes ...string) *CurrencyResolver {
	if len(codes) == 0 {
		codes = SupportedCurrencyCodes
	}
	r := &CurrencyResolver{byHash: make(map[common.Hash]string, len(codes))}
	for _, code := range codes {
		r.byHash[Keccak256([]byte(code))] = code
	}
	return r
}

// Resolve returns the plain currency code for raw. Plain strings pass through;
// hash-shaped values are looked up among the supported codes.
func (r *CurrencyResolver) Resolve(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case common.Hash:
		return r.lookup(v)
	case [32]byte:
		return r.lookup(common.Hash(v))
	case []byte:
		if len(v) != common.HashLength {
			return "", false
		}
		return r.lookup(common.BytesToHash(v))
	default:
		return "", false
	}
}

// Supports reports whether code is part of the supported set.
func (r *CurrencyResolver) Supports(code string) bool {
	_, ok := r.byHash[Keccak256([]byte(code))]
	return ok
}

func (r *CurrencyResolver) lookup(h common.Hash) (string, bool) {
	code, ok := r.byHash[h]
	return code, ok
}

// Keccak256 hashes data with the legacy Keccak-256 used by the EVM.
func Keccak256(data []byte) common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	return common.BytesToHash(hasher.Sum(nil))
}
