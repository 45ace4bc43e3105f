package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrConnectivity means the node could not be reached.
	ErrConnectivity = errors.New("node unreachable")
	// ErrTransientQuery means the node answered a historical query with an error
	// that is expected to clear on retry (reorg artifacts, lagging state).
	ErrTransientQuery = errors.New("transient query failure")
	// ErrInvalidBlock means the requested block does not exist.
	ErrInvalidBlock = errors.New("invalid block")
)

// QueryError carries the failed operation, the block it targeted and its class.
type QueryError struct {
	Op    string
	Block uint64
	Kind  error
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s at block %d: %v: %v", e.Op, e.Block, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewQueryError builds a QueryError with an explicit kind.
func NewQueryError(op string, block uint64, kind error, err error) *QueryError {
	return &QueryError{Op: op, Block: block, Kind: kind, Err: err}
}

// Classify wraps err into a QueryError according to what the node returned.
// Context cancellation is passed through untouched.
func Classify(op string, block uint64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return NewQueryError(op, block, kindOf(err), err)
}

func kindOf(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return ErrInvalidBlock
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return ErrConnectivity
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return ErrTransientQuery
	}
	return ErrConnectivity
}
