package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ethbalance/internal/domain"
	"ethbalance/internal/infrastructure/ethrpc"
)

// RPCClient is the upstream provider surface the service needs.
type RPCClient interface {
	BalanceAt(ctx context.Context, address, blockTag string) (*big.Int, time.Duration, error)
	BlockNumber(ctx context.Context) (string, error)
}

// ResultCache holds recent lookup results keyed by domain.LookupKey.
type ResultCache interface {
	Get(key string) (domain.BalanceResult, bool)
	Put(key string, result domain.BalanceResult)
}

// Observer receives lookup outcome notifications, typically for metrics.
type Observer interface {
	OnCacheHit()
	OnCacheMiss()
	OnInvalidInput()
	OnUpstreamError()
	OnInternalError()
	OnFetch(latency time.Duration)
}

type Config struct {
	Network  string
	BlockTag string
}

// BalanceService validates an address, serves from the cache when possible,
// and otherwise fetches balance and head block from the provider, converting
// wei to an exact decimal ether string.
type BalanceService struct {
	rpc      RPCClient
	cache    ResultCache
	observer Observer
	network  string
	blockTag string
	group    singleflight.Group
	tracer   trace.Tracer
}

func NewBalanceService(rpc RPCClient, cache ResultCache, observer Observer, cfg Config) (*BalanceService, error) {
	if rpc == nil || cache == nil {
		return nil, errors.New("balance service dependencies must not be nil")
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}
	if cfg.BlockTag == "" {
		cfg.BlockTag = "latest"
	}
	return &BalanceService{
		rpc:      rpc,
		cache:    cache,
		observer: observer,
		network:  cfg.Network,
		blockTag: cfg.BlockTag,
		tracer:   otel.Tracer("ethbalance/application"),
	}, nil
}

// Lookup resolves the current balance for a raw address string. Cache hits
// return the stored result unchanged, including the latency of the fetch
// that produced it; callers can use rpcLatencyMs trends to tell hits from
// misses. Concurrent misses for the same key collapse into one upstream
// fetch.
func (s *BalanceService) Lookup(ctx context.Context, rawAddress string) (domain.BalanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "balance.lookup")
	defer span.End()

	addr, err := domain.ParseAddress(rawAddress)
	if err != nil {
		s.observer.OnInvalidInput()
		span.SetStatus(codes.Error, "invalid address")
		return domain.BalanceResult{}, &ServiceError{Kind: KindInvalidInput, Err: err}
	}
	span.SetAttributes(attribute.String("eth.address", addr.Checksummed))

	key := domain.LookupKey(addr, s.network, s.blockTag)
	if cached, ok := s.cache.Get(key); ok {
		s.observer.OnCacheHit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return cached, nil
	}
	s.observer.OnCacheMiss()
	span.SetAttributes(attribute.Bool("cache.hit", false))

	fetched, err, _ := s.group.Do(key, func() (any, error) {
		result, err := s.fetch(ctx, addr, key)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.BalanceResult{}, s.classify(err)
	}
	result, ok := fetched.(domain.BalanceResult)
	if !ok {
		err := fmt.Errorf("unexpected fetch result type %T", fetched)
		span.RecordError(err)
		return domain.BalanceResult{}, &ServiceError{Kind: KindInternal, Err: err}
	}
	return result, nil
}

func (s *BalanceService) fetch(ctx context.Context, addr domain.Address, key string) (domain.BalanceResult, error) {
	var (
		wei     *big.Int
		latency time.Duration
		head    string
	)

	// Balance and head block are independent; fetch them concurrently. The
	// reported latency is the balance call's final round trip only.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wei, latency, err = s.rpc.BalanceAt(gctx, addr.Checksummed, s.blockTag)
		return err
	})
	g.Go(func() error {
		var err error
		head, err = s.rpc.BlockNumber(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.BalanceResult{}, err
	}

	result := domain.BalanceResult{
		Address:         addr.Checksummed,
		Network:         s.network,
		BlockTag:        s.blockTag,
		Balance:         domain.WeiToEther(wei),
		BalanceWei:      domain.WeiToString(wei),
		RPCLatencyMs:    latency.Milliseconds(),
		HeadBlockNumber: head,
	}
	s.cache.Put(key, result)
	s.observer.OnFetch(latency)
	return result, nil
}

func (s *BalanceService) classify(err error) *ServiceError {
	var rpcErr *ethrpc.Error
	if errors.As(err, &rpcErr) {
		s.observer.OnUpstreamError()
		return &ServiceError{Kind: KindUpstreamFailure, Err: err}
	}
	s.observer.OnInternalError()
	return &ServiceError{Kind: KindInternal, Err: err}
}

type noopObserver struct{}

func (noopObserver) OnCacheHit()           {}
func (noopObserver) OnCacheMiss()          {}
func (noopObserver) OnInvalidInput()       {}
func (noopObserver) OnUpstreamError()      {}
func (noopObserver) OnInternalError()      {}
func (noopObserver) OnFetch(time.Duration) {}
