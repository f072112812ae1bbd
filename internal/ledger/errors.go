package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"carbontrace/internal/apperr"
)

// Kind is the closed set of failure classes produced at the ledger boundary.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindUserRejected Kind = "user_rejected"
	KindRejected     Kind = "rejected"
	KindNetwork      Kind = "network"
	// KindPending means the transaction was broadcast but no receipt arrived
	// in time. It may still be mined; TxHash identifies it.
	KindPending Kind = "pending"
)

// Error is returned by every Ledger operation that fails.
type Error struct {
	Op     string
	Kind   Kind
	Reason string
	// TxHash is set once a transaction has been broadcast.
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger %s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && e.Reason == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case apperr.ErrLedgerRejected:
		return e.Kind == KindRejected
	case apperr.ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

// KindOf returns the ledger failure class of err, or "" when err did not come
// from the ledger boundary.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// PendingTx returns the hash of a broadcast transaction whose outcome is
// unknown.
func PendingTx(err error) (string, bool) {
	var le *Error
	if errors.As(err, &le) && le.Kind == KindPending && le.TxHash != "" {
		return le.TxHash, true
	}
	return "", false
}

func validationError(op, reason string) *Error {
	return &Error{Op: op, Kind: KindValidation, Reason: reason}
}

func rejected(op, reason string) *Error {
	return &Error{Op: op, Kind: KindRejected, Reason: reason}
}

const (
	rpcCodeUserRejected      = 4001
	rpcCodeExecutionReverted = 3
)

// classify converts an error from the go-ethereum stack into an *Error. This
// is the only place where RPC error text is inspected.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, Kind: KindNetwork, Reason: "request cancelled or timed out", Err: err}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeUserRejected:
			return &Error{Op: op, Kind: KindUserRejected, Reason: rpcErr.Error(), Err: err}
		case rpcCodeExecutionReverted:
			return &Error{Op: op, Kind: KindRejected, Reason: revertReason(err), Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Op: op, Kind: KindNetwork, Reason: netErr.Error(), Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return &Error{Op: op, Kind: KindUserRejected, Reason: err.Error(), Err: err}
	case strings.Contains(msg, "execution reverted"):
		return &Error{Op: op, Kind: KindRejected, Reason: revertReason(err), Err: err}
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return &Error{Op: op, Kind: KindRejected, Reason: err.Error(), Err: err}
	}
	return &Error{Op: op, Kind: KindNetwork, Reason: err.Error(), Err: err}
}

// revertReason extracts the Solidity revert string when the node returned it.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted:"); idx >= 0 {
		return strings.TrimSpace(msg[idx+len("execution reverted:"):])
	}
	return msg
}
