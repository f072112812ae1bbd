package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/datatypes"

	"carbontrace/internal/apperr"
	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/models"
)

// TransferRequest moves quantity of a token from the signer to a partner.
type TransferRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	TokenID  uint64 `json:"token_id"`
	Quantity uint64 `json:"quantity"`
	Reason   string `json:"reason"`
}

// TransferResult is the ledger outcome of a transfer. Journaled is false when
// the journal write failed; the transfer still happened. Status is pending when
// the transaction was broadcast but not confirmed in time.
type TransferResult struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      string `json:"status"`
	Journaled   bool   `json:"journaled"`
}

// Transfer sends tokens to an active partner of the sender. The balance is
// checked before submission so an overdraft never reaches the ledger. A
// transfer that was broadcast but not confirmed is journaled as pending and
// returned together with the ledger error.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	from, to, err := e.validateTransfer(req)
	if err != nil {
		return nil, err
	}

	active, err := e.partners.IsActive(ctx, from.Hex(), to.Hex())
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%s: %w", to.Hex(), apperr.ErrUnknownPartner)
	}

	balance, err := e.ledger.BalanceOf(ctx, from, req.TokenID)
	if err != nil {
		return nil, err
	}
	if balance < req.Quantity {
		return nil, fmt.Errorf("hold %d of token %d, need %d: %w", balance, req.TokenID, req.Quantity, apperr.ErrInsufficientBalance)
	}

	reason := strings.TrimSpace(req.Reason)
	entry := &models.TokenTransfer{
		FromAddress: from.Hex(),
		ToAddress:   to.Hex(),
		TokenID:     req.TokenID,
		Quantity:    int64(req.Quantity),
		Reason:      reason,
	}

	receipt, err := e.ledger.Transfer(ctx, to, req.TokenID, req.Quantity, reason)
	if err != nil {
		hash, pending := ledger.PendingTx(err)
		if !pending {
			return nil, err
		}
		applog.Error(ctx, "transfer broadcast but unconfirmed",
			"tokenID", req.TokenID, "quantity", req.Quantity, "to", to.Hex(), "txHash", hash)
		if receipt == nil {
			receipt = &ledger.Receipt{TxHash: hash, TokenID: req.TokenID, Quantity: req.Quantity}
		}
		entry.TxHash = hash
		entry.Status = models.TransferStatusPending
		result := &TransferResult{TxHash: hash, Status: models.TransferStatusPending}
		result.Journaled = e.journal(ctx, entry, receipt)
		return result, err
	}
	applog.Info(ctx, "tokens transferred",
		"tokenID", req.TokenID, "quantity", req.Quantity, "to", to.Hex(), "txHash", receipt.TxHash)

	block, gas := receipt.BlockNumber, receipt.GasUsed
	entry.TxHash = receipt.TxHash
	entry.BlockNumber = &block
	entry.GasUsed = &gas
	entry.Status = models.TransferStatusConfirmed
	result := &TransferResult{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
		Status:      models.TransferStatusConfirmed,
	}
	result.Journaled = e.journal(ctx, entry, receipt)
	return result, nil
}

// journal writes entry with the ledger receipt attached. The write ignores ctx
// cancellation since the ledger has already seen the transaction.
func (e *Engine) journal(ctx context.Context, entry *models.TokenTransfer, receipt *ledger.Receipt) bool {
	raw, err := json.Marshal(receipt)
	if err != nil {
		applog.Error(ctx, "transfer receipt not encoded", "txHash", entry.TxHash, "err", err)
	} else {
		entry.Raw = datatypes.JSON(raw)
	}
	if _, err := e.batches.RecordTransfer(context.WithoutCancel(ctx), entry); err != nil {
		applog.Error(ctx, "transfer journal write failed",
			"tokenID", entry.TokenID, "txHash", entry.TxHash, "status", entry.Status, "err", err)
		return false
	}
	return true
}

func (e *Engine) validateTransfer(req TransferRequest) (common.Address, common.Address, error) {
	fields := map[string]string{}
	to, err := ledger.ParseAddress("to", req.To)
	if err != nil {
		var invalid *apperr.ValidationError
		if !errors.As(err, &invalid) {
			return common.Address{}, common.Address{}, err
		}
		maps.Copy(fields, invalid.Fields)
	}
	if req.TokenID == 0 {
		fields["token_id"] = "is required"
	}
	if req.Quantity == 0 {
		fields["quantity"] = "must be greater than 0"
	}
	if len(fields) > 0 {
		return common.Address{}, common.Address{}, &apperr.ValidationError{Fields: fields}
	}
	if err := e.requireSender("from", strings.TrimSpace(req.From)); err != nil {
		return common.Address{}, common.Address{}, err
	}
	from := e.ledger.Sender()
	if to == from {
		return common.Address{}, common.Address{}, apperr.NewValidation("to", "cannot transfer to the sender")
	}
	return from, to, nil
}
