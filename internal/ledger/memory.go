package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"carbontrace/internal/apperr"
)

// Event is an entry in the in-memory ledger's log.
type Event struct {
	Kind     string
	TokenID  uint64
	From     common.Address
	To       common.Address
	Quantity uint64
	Reason   string
	TxHash   string
	Block    uint64
}

// Memory is a self-contained multi-token ledger with the same rules as the
// deployed contract: per-token balances and supply, a batch registry with
// unique batch numbers per manufacturer, and a pause switch.
type Memory struct {
	mu       sync.Mutex
	sender   common.Address
	contract common.Address
	counter  uint64
	block    uint64
	paused   bool
	balances map[uint64]map[common.Address]uint64
	supply   map[uint64]uint64
	batches  map[uint64]BatchInfo
	numbers  map[string]uint64
	events   []Event
}

// NewMemory returns an empty ledger whose writes are signed by sender.
func NewMemory(sender common.Address) *Memory {
	return &Memory{
		sender:   sender,
		contract: common.BytesToAddress(crypto.Keccak256([]byte("carbontrace-memory-ledger"))[12:]),
		block:    1,
		balances: make(map[uint64]map[common.Address]uint64),
		supply:   make(map[uint64]uint64),
		batches:  make(map[uint64]BatchInfo),
		numbers:  make(map[string]uint64),
	}
}

func (m *Memory) Sender() common.Address          { return m.sender }
func (m *Memory) ContractAddress() common.Address { return m.contract }

// SetPaused toggles the contract pause switch; writes are rejected while paused.
func (m *Memory) SetPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
}

// Events returns a copy of the emitted event log.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Mint(ctx context.Context, req MintRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("mint", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return nil, rejected("mint", "contract is paused")
	}
	key := batchKey(m.sender, req.BatchNumber)
	if _, exists := m.numbers[key]; exists {
		return nil, rejected("mint", "batch number already exists")
	}

	m.counter++
	tokenID := m.counter
	m.numbers[key] = tokenID
	m.batches[tokenID] = BatchInfo{
		TokenID:           tokenID,
		BatchNumber:       req.BatchNumber,
		TemplateID:        req.TemplateID,
		PlantID:           req.PlantID,
		Quantity:          req.Quantity,
		ProductionDate:    req.ProductionDate.UTC(),
		ExpiryDate:        req.ExpiryDate.UTC(),
		CarbonFootprintKg: req.CarbonFootprintKg,
		Manufacturer:      m.sender,
		MetadataURI:       req.MetadataURI,
	}
	m.credit(tokenID, m.sender, req.Quantity)
	m.supply[tokenID] += req.Quantity

	receipt := m.emit(Event{Kind: "mint", TokenID: tokenID, To: m.sender, Quantity: req.Quantity})
	receipt.TokenID = tokenID
	receipt.Quantity = req.Quantity
	return receipt, nil
}

func (m *Memory) Transfer(ctx context.Context, to common.Address, tokenID, quantity uint64, reason string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("transfer", err)
	}
	if to == (common.Address{}) {
		return nil, validationError("transfer", "destination must not be the zero address")
	}
	if tokenID == 0 || quantity == 0 {
		return nil, validationError("transfer", "token id and quantity must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return nil, rejected("transfer", "contract is paused")
	}
	if m.balances[tokenID][m.sender] < quantity {
		return nil, rejected("transfer", "insufficient balance for transfer")
	}
	m.balances[tokenID][m.sender] -= quantity
	m.credit(tokenID, to, quantity)

	receipt := m.emit(Event{Kind: "transfer", TokenID: tokenID, From: m.sender, To: to, Quantity: quantity, Reason: reason})
	receipt.TokenID = tokenID
	receipt.Quantity = quantity
	return receipt, nil
}

func (m *Memory) Burn(ctx context.Context, tokenID, quantity uint64, reason string) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("burn", err)
	}
	if tokenID == 0 || quantity == 0 {
		return nil, validationError("burn", "token id and quantity must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paused {
		return nil, rejected("burn", "contract is paused")
	}
	if m.balances[tokenID][m.sender] < quantity {
		return nil, rejected("burn", "burn amount exceeds balance")
	}
	m.balances[tokenID][m.sender] -= quantity
	m.supply[tokenID] -= quantity

	receipt := m.emit(Event{Kind: "burn", TokenID: tokenID, From: m.sender, Quantity: quantity, Reason: reason})
	receipt.TokenID = tokenID
	receipt.Quantity = quantity
	return receipt, nil
}

func (m *Memory) BalanceOf(ctx context.Context, owner common.Address, tokenID uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify("balanceOf", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[tokenID][owner], nil
}

func (m *Memory) BatchInfo(ctx context.Context, tokenID uint64) (*BatchInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("getBatchInfo", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.batches[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, apperr.ErrNotFound)
	}
	return &info, nil
}

// TotalSupply returns the outstanding supply of tokenID.
func (m *Memory) TotalSupply(tokenID uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply[tokenID]
}

func (m *Memory) TokenCounter(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, classify("getCurrentTokenCounter", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter, nil
}

func (m *Memory) MintedTokens(ctx context.Context) ([]BatchInfo, error) {
	return scanMinted(ctx, m, 1)
}

func (m *Memory) credit(tokenID uint64, owner common.Address, quantity uint64) {
	holders, ok := m.balances[tokenID]
	if !ok {
		holders = make(map[common.Address]uint64)
		m.balances[tokenID] = holders
	}
	holders[owner] += quantity
}

// emit records ev in a new block. Callers hold m.mu.
func (m *Memory) emit(ev Event) *Receipt {
	m.block++
	ev.Block = m.block
	ev.TxHash = crypto.Keccak256Hash([]byte(fmt.Sprintf("%s:%d:%d:%d", ev.Kind, ev.TokenID, ev.Quantity, m.block))).Hex()
	m.events = append(m.events, ev)
	return &Receipt{TxHash: ev.TxHash, BlockNumber: ev.Block, GasUsed: 21000}
}

func batchKey(manufacturer common.Address, batchNumber string) string {
	return manufacturer.Hex() + "/" + strings.TrimSpace(batchNumber)
}
