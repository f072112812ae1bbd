package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"carbontrace/internal/apperr"
	applog "carbontrace/internal/log"
)

const (
	defaultReceiptTimeout  = 2 * time.Minute
	defaultCacheSize       = 1024
	defaultCacheTTL        = 10 * time.Minute
	defaultScanConcurrency = 8
)

// Config describes how the Ethereum-backed ledger client connects and signs.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	// ChainID is queried from the node when zero.
	ChainID         uint64
	ReceiptTimeout  time.Duration
	CacheSize       int
	CacheTTL        time.Duration
	ScanConcurrency int
}

// Backend is the subset of *ethclient.Client used by Client.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client talks to the token contract over JSON-RPC. Writes from the signing
// account are submitted one at a time so nonces are never assigned twice.
type Client struct {
	backend         Backend
	contract        *bind.BoundContract
	address         common.Address
	key             *ecdsa.PrivateKey
	sender          common.Address
	chainID         *big.Int
	receiptTimeout  time.Duration
	scanConcurrency int
	batchCache      *expirable.LRU[uint64, BatchInfo]

	submitMu sync.Mutex
	closer   func()
}

// Dial connects to cfg.RPCURL and builds a Client.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("ledger: rpc url must not be empty")
	}
	rpcClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", cfg.RPCURL, err)
	}
	client, err := NewClient(ctx, rpcClient, cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.closer = rpcClient.Close
	return client, nil
}

// NewClient builds a Client over an existing backend.
func NewClient(ctx context.Context, backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger: backend is nil")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: parse private key: %w", err)
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger: query chain id: %w", err)
		}
	}

	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = defaultReceiptTimeout
	}
	cacheSize := cfg.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	scanConcurrency := cfg.ScanConcurrency
	if scanConcurrency <= 0 {
		scanConcurrency = defaultScanConcurrency
	}

	address := common.HexToAddress(cfg.ContractAddress)
	client := &Client{
		backend:         backend,
		contract:        bind.NewBoundContract(address, parsedABI, backend, backend, backend),
		address:         address,
		key:             key,
		sender:          crypto.PubkeyToAddress(key.PublicKey),
		chainID:         chainID,
		receiptTimeout:  receiptTimeout,
		scanConcurrency: scanConcurrency,
		batchCache:      expirable.NewLRU[uint64, BatchInfo](cacheSize, nil, cacheTTL),
	}

	applog.Debug(ctx, "ledger client configured",
		"contract", address.Hex(),
		"sender", client.sender.Hex(),
		"chainID", chainID.String(),
	)
	return client, nil
}

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) Sender() common.Address          { return c.sender }
func (c *Client) ContractAddress() common.Address { return c.address }

// Mint registers a batch and mints its quantity to the signing account. The
// token id is taken from the emitted event.
func (c *Client) Mint(ctx context.Context, req MintRequest) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	receipt, raw, err := c.transact(ctx, "mint", "mintBatch", mintGasPaddingPercent,
		req.BatchNumber,
		u64(req.TemplateID),
		u64(req.Quantity),
		unixSeconds(req.ProductionDate),
		unixSeconds(req.ExpiryDate),
		big.NewInt(req.CarbonFootprintKg),
		u64(req.PlantID),
		req.MetadataURI,
	)
	if err != nil {
		return receipt, err
	}

	tokenID, quantity, err := decodeMintEvent(c.address, raw.Logs)
	if err != nil {
		return receipt, fmt.Errorf("mint tx %s: %w: %v", receipt.TxHash, apperr.ErrDataIntegrity, err)
	}
	receipt.TokenID = tokenID
	receipt.Quantity = quantity
	return receipt, nil
}

func (c *Client) Transfer(ctx context.Context, to common.Address, tokenID, quantity uint64, reason string) (*Receipt, error) {
	if to == (common.Address{}) {
		return nil, validationError("transfer", "destination must not be the zero address")
	}
	if tokenID == 0 || quantity == 0 {
		return nil, validationError("transfer", "token id and quantity must be positive")
	}
	receipt, _, err := c.transact(ctx, "transfer", "transferWithReason", transferGasPaddingPercent,
		to, u64(tokenID), u64(quantity), reason)
	if receipt != nil {
		receipt.TokenID = tokenID
		receipt.Quantity = quantity
	}
	return receipt, err
}

func (c *Client) Burn(ctx context.Context, tokenID, quantity uint64, reason string) (*Receipt, error) {
	if tokenID == 0 || quantity == 0 {
		return nil, validationError("burn", "token id and quantity must be positive")
	}
	receipt, _, err := c.transact(ctx, "burn", "burnWithReason", burnGasPaddingPercent,
		u64(tokenID), u64(quantity), reason)
	if receipt != nil {
		receipt.TokenID = tokenID
		receipt.Quantity = quantity
	}
	return receipt, err
}

func (c *Client) BalanceOf(ctx context.Context, owner common.Address, tokenID uint64) (uint64, error) {
	out, err := c.call(ctx, "balanceOf", "balanceOf", owner, u64(tokenID))
	if err != nil {
		return 0, err
	}
	return bigToUint64(asBig(out[0])), nil
}

// BatchInfo reads the ledger registry entry for tokenID. Entries are immutable
// once minted so they are cached.
func (c *Client) BatchInfo(ctx context.Context, tokenID uint64) (*BatchInfo, error) {
	if cached, ok := c.batchCache.Get(tokenID); ok {
		info := cached
		return &info, nil
	}
	out, err := c.call(ctx, "getBatchInfo", "getBatchInfo", u64(tokenID))
	if err != nil {
		return nil, err
	}
	info, exists, err := decodeBatchInfo(tokenID, out)
	if err != nil {
		return nil, &Error{Op: "getBatchInfo", Kind: KindNetwork, Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("token %d: %w", tokenID, apperr.ErrNotFound)
	}
	c.batchCache.Add(tokenID, *info)
	return info, nil
}

func (c *Client) TokenCounter(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "getCurrentTokenCounter", "getCurrentTokenCounter")
	if err != nil {
		return 0, err
	}
	return bigToUint64(asBig(out[0])), nil
}

func (c *Client) MintedTokens(ctx context.Context) ([]BatchInfo, error) {
	return scanMinted(ctx, c, c.scanConcurrency)
}

func (c *Client) call(ctx context.Context, op, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: c.sender}
	if err := c.contract.Call(opts, &out, method, params...); err != nil {
		return nil, classify(op, err)
	}
	if len(out) == 0 {
		return nil, &Error{Op: op, Kind: KindNetwork, Reason: "empty call result"}
	}
	return out, nil
}

// transact packs, submits and waits for a contract call. Once the transaction
// is broadcast the returned receipt carries its hash, even alongside an error.
func (c *Client) transact(ctx context.Context, op, method string, paddingPercent uint64, params ...interface{}) (*Receipt, *types.Receipt, error) {
	data, err := parsedABI.Pack(method, params...)
	if err != nil {
		return nil, nil, &Error{Op: op, Kind: KindValidation, Reason: "encode call", Err: err}
	}

	tx, err := c.submit(ctx, data, paddingPercent)
	if err != nil {
		return nil, nil, classify(op, err)
	}
	applog.Info(ctx, "ledger transaction submitted", "op", op, "tx", tx.Hash().Hex(), "nonce", tx.Nonce(), "gas", tx.Gas())

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()
	raw, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		hash := tx.Hash().Hex()
		applog.Error(ctx, "ledger transaction unconfirmed", "op", op, "tx", hash, "err", err)
		return &Receipt{TxHash: hash}, nil, &Error{Op: op, Kind: KindPending, Reason: "no receipt for " + hash, TxHash: hash, Err: err}
	}

	receipt := &Receipt{TxHash: tx.Hash().Hex(), GasUsed: raw.GasUsed}
	if raw.BlockNumber != nil {
		receipt.BlockNumber = raw.BlockNumber.Uint64()
	}
	if raw.Status != types.ReceiptStatusSuccessful {
		return receipt, raw, rejected(op, "transaction "+receipt.TxHash+" reverted")
	}
	return receipt, raw, nil
}

func (c *Client) submit(ctx context.Context, data []byte, paddingPercent uint64) (*types.Transaction, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.sender, To: &c.address, Data: data})
	if err != nil {
		return nil, err
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, err
	}
	tip = applyFeeFloor(c.chainID.Uint64(), tip)

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	opts.GasLimit = padGas(gas, paddingPercent)
	opts.GasTipCap = tip
	opts.GasFeeCap = feeCap(head.BaseFee, tip)

	return c.contract.RawTransact(opts, data)
}
