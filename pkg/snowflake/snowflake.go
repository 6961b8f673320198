package snowflake

import (
	"errors"
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// Ids are laid out as | 41 bits ms since epoch | 10 bits node | 12 bits step |.
const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Node generates ids that are unique per node and increase over time. The
// client uses them for its installation id, request ids and notification tags.
type Node struct {
	mu   sync.Mutex
	now  func() int64
	time int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{
		now:  func() int64 { return time.Now().UnixMilli() },
		node: node,
	}, nil
}

// NodeFor derives a node number from an arbitrary seed such as a hostname,
// so separate client processes on different machines rarely collide.
func NodeFor(seed string) *Node {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	n, _ := NewNode(int64(h.Sum32() & nodeMax))
	return n
}

func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.time {
		// clock moved backwards
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}
	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// String returns a new id in base 36.
func (n *Node) String() string {
	return strconv.FormatInt(n.Generate(), 36)
}

// Time extracts the creation time of an id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
