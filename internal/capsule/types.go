package capsule

import (
	"bytes"
	"math"
)

// ID identifies a capsule. IDs are dense and assigned sequentially from 0.
type ID uint64

// MaxID is the largest representable ID. A store whose next_id equals
// MaxID can no longer advance its counter.
const MaxID = ID(math.MaxUint64)

// BlockNumber is a point on the host's monotonic block height timeline.
type BlockNumber uint32

// MaxBlockNumber is the largest representable block height.
const MaxBlockNumber = BlockNumber(math.MaxUint32)

// Amount is a non-negative quantity of value.
type Amount uint64

// Capsule is the sole persisted record.
// Every field is set once by Create and never mutated.
type Capsule struct {
	Creator     AccountID
	Recipient   AccountID
	Message     []byte
	UnlockBlock BlockNumber
	ValueLocked Amount
}

// Entry pairs a capsule with its ID. Returned by listing operations.
type Entry struct {
	ID      ID
	Capsule Capsule
}

// Involves reports whether account created or may open the capsule.
func (c Capsule) Involves(account AccountID) bool {
	return c.Creator == account || c.Recipient == account
}

// Unlocked reports whether the capsule may be opened at block.
// The unlock block itself is the first eligible height.
func (c Capsule) Unlocked(block BlockNumber) bool {
	return block >= c.UnlockBlock
}

// Equal compares two capsules field by field.
func (c Capsule) Equal(other Capsule) bool {
	return c.Creator == other.Creator &&
		c.Recipient == other.Recipient &&
		c.UnlockBlock == other.UnlockBlock &&
		c.ValueLocked == other.ValueLocked &&
		bytes.Equal(c.Message, other.Message)
}

// Clone returns a copy that shares no memory with c.
func (c Capsule) Clone() Capsule {
	out := c
	if c.Message != nil {
		out.Message = append([]byte(nil), c.Message...)
	}
	return out
}

// unlockAt computes now + duration with a checked addition.
func unlockAt(now, duration BlockNumber) (BlockNumber, bool) {
	if duration > MaxBlockNumber-now {
		return 0, false
	}
	return now + duration, true
}
