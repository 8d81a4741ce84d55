package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/chrono/internal/capsule"
)

var (
	// ErrHeightOverflow is returned when advancing past the largest block number.
	ErrHeightOverflow = errors.New("block height overflow")

	// ErrHeightRegression is returned when setting a height below the current one.
	ErrHeightRegression = errors.New("block height cannot decrease")
)

// Clock reports the current block height.
type Clock interface {
	BlockNumber(ctx context.Context) (capsule.BlockNumber, error)
}

// Chain is an in-memory monotonic block height.
//
// Thread-safety: all methods are safe for concurrent use.
type Chain struct {
	mu     sync.Mutex
	height capsule.BlockNumber
}

// NewChain creates a chain at height start.
func NewChain(start capsule.BlockNumber) *Chain {
	return &Chain{height: start}
}

// BlockNumber returns the current height.
func (c *Chain) BlockNumber(context.Context) (capsule.BlockNumber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height, nil
}

// Advance moves the height forward by n blocks and returns the new height.
func (c *Chain) Advance(n capsule.BlockNumber) (capsule.BlockNumber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := AdvanceHeight(c.height, n)
	if err != nil {
		return c.height, err
	}
	c.height = next
	return next, nil
}

// SetHeight jumps to height h. Heights never decrease.
func (c *Chain) SetHeight(h capsule.BlockNumber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h < c.height {
		return fmt.Errorf("%w: %d < %d", ErrHeightRegression, h, c.height)
	}
	c.height = h
	return nil
}

// AdvanceHeight adds n to height with a checked addition.
func AdvanceHeight(height, n capsule.BlockNumber) (capsule.BlockNumber, error) {
	if n > capsule.MaxBlockNumber-height {
		return 0, fmt.Errorf("%w: %d + %d", ErrHeightOverflow, height, n)
	}
	return height + n, nil
}
