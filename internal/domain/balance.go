package domain

import "strings"

// BalanceResult is the fully populated outcome of a balance lookup. It is
// immutable once built and safe to share between the cache and concurrent
// readers.
type BalanceResult struct {
	Address         string `json:"address"`
	Network         string `json:"network"`
	BlockTag        string `json:"blockTag"`
	Balance         string `json:"balance"`
	BalanceWei      string `json:"balanceWei"`
	RPCLatencyMs    int64  `json:"rpcLatencyMs"`
	HeadBlockNumber string `json:"headBlockNumber"`
}

// LookupKey derives the cache key for an address/network/tag triple. The
// address component is lowercased so the key is independent of the casing the
// caller supplied.
func LookupKey(addr Address, network, blockTag string) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(strings.ToLower(addr.Checksummed))
	b.WriteString(":")
	b.WriteString(network)
	b.WriteString(":")
	b.WriteString(blockTag)
	return b.String()
}
