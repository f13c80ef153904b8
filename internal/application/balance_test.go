package application

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ethbalance/internal/domain"
	"ethbalance/internal/infrastructure/ethrpc"
	"ethbalance/internal/infrastructure/memcache"
)

const (
	checksummed = "0xC94770007dDa54cF92009BFF0dE90c06F603a09f"
	badChecksum = "0xc94770007dda54cF92009BFF0dE90c06F603a09f"
)

type mockRPC struct {
	mu           sync.Mutex
	balanceCalls int32
	headCalls    int32
	wei          *big.Int
	latency      time.Duration
	head         string
	balanceErr   error
	headErr      error
	// gate, when set, blocks BalanceAt until released. Used to force
	// concurrent misses to overlap.
	gate chan struct{}
}

func (m *mockRPC) BalanceAt(ctx context.Context, address, blockTag string) (*big.Int, time.Duration, error) {
	atomic.AddInt32(&m.balanceCalls, 1)
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return nil, 0, m.balanceErr
	}
	return new(big.Int).Set(m.wei), m.latency, nil
}

func (m *mockRPC) BlockNumber(ctx context.Context) (string, error) {
	atomic.AddInt32(&m.headCalls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headErr != nil {
		return "", m.headErr
	}
	return m.head, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, rpc *mockRPC, ttl time.Duration) (*BalanceService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cache := memcache.New(ttl, clock.Now)
	svc, err := NewBalanceService(rpc, cache, nil, Config{Network: "mainnet", BlockTag: "latest"})
	if err != nil {
		t.Fatalf("NewBalanceService: %v", err)
	}
	return svc, clock
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal " + s)
	}
	return v
}

func TestLookup_Success(t *testing.T) {
	rpc := &mockRPC{wei: wei("136500000000000"), latency: 42 * time.Millisecond, head: "0x152a4c1"}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	got, err := svc.Lookup(context.Background(), checksummed)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	want := domain.BalanceResult{
		Address:         checksummed,
		Network:         "mainnet",
		BlockTag:        "latest",
		Balance:         "0.0001365",
		BalanceWei:      "136500000000000",
		RPCLatencyMs:    42,
		HeadBlockNumber: "0x152a4c1",
	}
	if got != want {
		t.Errorf("result = %+v, want %+v", got, want)
	}
}

func TestLookup_NormalizesLowercaseInput(t *testing.T) {
	rpc := &mockRPC{wei: wei("0"), head: "0x1"}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	got, err := svc.Lookup(context.Background(), "0xc94770007dda54cf92009bff0de90c06f603a09f")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Address != checksummed {
		t.Errorf("address = %s, want %s", got.Address, checksummed)
	}
	if got.Balance != "0" || got.BalanceWei != "0" {
		t.Errorf("zero balance rendered as %s / %s", got.Balance, got.BalanceWei)
	}
}

func TestLookup_InvalidAddress_NoNetworkCall(t *testing.T) {
	rpc := &mockRPC{wei: wei("1"), head: "0x1"}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	inputs := []string{badChecksum, "0xZZ", "not-an-address", ""}
	for _, input := range inputs {
		_, err := svc.Lookup(context.Background(), input)
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			t.Fatalf("Lookup(%q): expected ServiceError, got %v", input, err)
		}
		if svcErr.Kind != KindInvalidInput {
			t.Errorf("Lookup(%q): kind = %s, want %s", input, svcErr.Kind, KindInvalidInput)
		}
	}
	if n := atomic.LoadInt32(&rpc.balanceCalls) + atomic.LoadInt32(&rpc.headCalls); n != 0 {
		t.Errorf("rpc called %d times for invalid input", n)
	}
}

func TestLookup_CacheHitWithinTTL(t *testing.T) {
	rpc := &mockRPC{wei: wei("1000000000000000000"), latency: 17 * time.Millisecond, head: "0x2"}
	svc, clock := newTestService(t, rpc, 5*time.Second)

	first, err := svc.Lookup(context.Background(), checksummed)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}

	clock.Advance(4 * time.Second)
	// Different casing of the same address must hit the same entry.
	second, err := svc.Lookup(context.Background(), "0xc94770007dda54cf92009bff0de90c06f603a09f")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}

	balanceCalls := atomic.LoadInt32(&rpc.balanceCalls)
	headCalls := atomic.LoadInt32(&rpc.headCalls)
	if balanceCalls != 1 || headCalls != 1 {
		t.Errorf("upstream calls = %d/%d, want 1/1", balanceCalls, headCalls)
	}
	// Cached responses report the original fetch's latency.
	if second.RPCLatencyMs != first.RPCLatencyMs {
		t.Errorf("cached latency = %d, want %d", second.RPCLatencyMs, first.RPCLatencyMs)
	}
	if second != first {
		t.Errorf("cached result differs: %+v vs %+v", second, first)
	}
}

func TestLookup_RefetchesAfterExpiry(t *testing.T) {
	rpc := &mockRPC{wei: wei("1"), head: "0x2"}
	svc, clock := newTestService(t, rpc, 5*time.Second)

	if _, err := svc.Lookup(context.Background(), checksummed); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	clock.Advance(6 * time.Second)
	if _, err := svc.Lookup(context.Background(), checksummed); err != nil {
		t.Fatalf("second lookup: %v", err)
	}

	if got := atomic.LoadInt32(&rpc.balanceCalls); got != 2 {
		t.Errorf("balance calls = %d, want 2", got)
	}
}

func TestLookup_UpstreamFailure(t *testing.T) {
	rpc := &mockRPC{
		head:       "0x1",
		balanceErr: &ethrpc.Error{Kind: ethrpc.KindTimeout, Method: "eth_getBalance", Err: errors.New("deadline exceeded")},
	}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	_, err := svc.Lookup(context.Background(), checksummed)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.Kind != KindUpstreamFailure {
		t.Errorf("kind = %s, want %s", svcErr.Kind, KindUpstreamFailure)
	}
	var rpcErr *ethrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Error("rpc error not preserved in chain")
	}
}

func TestLookup_BlockNumberFailureIsUpstream(t *testing.T) {
	rpc := &mockRPC{
		wei:     wei("1"),
		headErr: &ethrpc.Error{Kind: ethrpc.KindTransport, Method: "eth_blockNumber", Err: errors.New("connection refused")},
	}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	_, err := svc.Lookup(context.Background(), checksummed)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Kind != KindUpstreamFailure {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

func TestLookup_FailureIsNotCached(t *testing.T) {
	rpc := &mockRPC{
		wei:        wei("5"),
		head:       "0x1",
		balanceErr: &ethrpc.Error{Kind: ethrpc.KindTransport, Method: "eth_getBalance", Err: errors.New("boom")},
	}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	if _, err := svc.Lookup(context.Background(), checksummed); err == nil {
		t.Fatal("expected failure")
	}

	rpc.mu.Lock()
	rpc.balanceErr = nil
	rpc.mu.Unlock()

	got, err := svc.Lookup(context.Background(), checksummed)
	if err != nil {
		t.Fatalf("lookup after recovery: %v", err)
	}
	if got.BalanceWei != "5" {
		t.Errorf("balanceWei = %s, want 5", got.BalanceWei)
	}
}

func TestLookup_UnknownErrorIsInternal(t *testing.T) {
	rpc := &mockRPC{head: "0x1", balanceErr: errors.New("invariant violated")}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	_, err := svc.Lookup(context.Background(), checksummed)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Kind != KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestLookup_ConcurrentMissesCollapse(t *testing.T) {
	gate := make(chan struct{})
	rpc := &mockRPC{wei: wei("7"), head: "0x3", gate: gate}
	svc, _ := newTestService(t, rpc, 5*time.Second)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]domain.BalanceResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = svc.Lookup(context.Background(), checksummed)
		}(i)
	}

	// Let all goroutines reach the miss path, then release the fetch.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].BalanceWei != "7" {
			t.Errorf("worker %d: balanceWei = %s", i, results[i].BalanceWei)
		}
	}
	if got := atomic.LoadInt32(&rpc.balanceCalls); got != 1 {
		t.Errorf("balance calls = %d, want 1 via single-flight", got)
	}
}
