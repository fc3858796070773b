package onchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mbd888/txguard/internal/health"
)

// Provider answers the four on-chain queries. Implementations must honour
// ctx cancellation; the collector gives each call its own deadline.
type Provider interface {
	TransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Verified(ctx context.Context, addr common.Address) (bool, error)
	CreatedAt(ctx context.Context, addr common.Address) (time.Time, error)
}

// ChainReader is the subset of ethclient.Client used here.
type ChainReader interface {
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// RPCProvider reads account state over JSON-RPC and, when an Explorer is
// configured, verification and deployment data from a block explorer.
type RPCProvider struct {
	client   ChainReader
	explorer *Explorer
	closeFn  func()
}

// Compile-time interface check
var _ Provider = (*RPCProvider)(nil)

// NewRPCProvider wraps an existing client. explorer may be nil.
func NewRPCProvider(client ChainReader, explorer *Explorer) *RPCProvider {
	return &RPCProvider{client: client, explorer: explorer}
}

// DialRPC connects to rpcURL with go-ethereum's ethclient.
func DialRPC(ctx context.Context, rpcURL string, explorer *Explorer) (*RPCProvider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial rpc: %w", err)
	}
	p := NewRPCProvider(client, explorer)
	p.closeFn = client.Close
	return p, nil
}

// TransactionCount returns the account nonce at the latest block.
func (p *RPCProvider) TransactionCount(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := p.client.NonceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("onchain: nonce: %w", err)
	}
	return n, nil
}

// Code returns the runtime bytecode at the latest block.
func (p *RPCProvider) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := p.client.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: code: %w", err)
	}
	return code, nil
}

// Verified reports whether the explorer has verified source for addr.
func (p *RPCProvider) Verified(ctx context.Context, addr common.Address) (bool, error) {
	if p.explorer == nil {
		return false, ErrUnsupported
	}
	return p.explorer.Verified(ctx, addr)
}

// CreatedAt returns the deployment time of the contract at addr.
func (p *RPCProvider) CreatedAt(ctx context.Context, addr common.Address) (time.Time, error) {
	if p.explorer == nil {
		return time.Time{}, ErrUnsupported
	}
	return p.explorer.CreatedAt(ctx, addr)
}

// ChainID queries the connected chain; used as a liveness probe.
func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("onchain: chain id: %w", err)
	}
	return id, nil
}

// Close releases the RPC connection if this provider dialed it.
func (p *RPCProvider) Close() {
	if p.closeFn != nil {
		p.closeFn()
	}
}

// HealthCheck probes the RPC endpoint with eth_chainId.
func (p *RPCProvider) HealthCheck() health.Checker {
	return func(ctx context.Context) health.Status {
		id, err := p.ChainID(ctx)
		if err != nil {
			return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "rpc", Healthy: true, Detail: "chain " + id.String()}
	}
}
