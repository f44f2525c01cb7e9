// Package stream holds the event model shared by the read and publish paths
// of the hub: events, read positions and the transport error taxonomy.
package stream

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Event is one record read from a partition. Events are immutable once
// produced; readers must not modify Body.
type Event struct {
	PartitionID string
	Offset      int64
	EnqueuedAt  time.Time
	Body        []byte
}

type PositionKind int

const (
	Earliest PositionKind = iota
	Latest
	AtOffset
)

// Position tells a transport where to start reading a partition. For
// AtOffset, Offset is the next offset to deliver (inclusive).
type Position struct {
	Kind   PositionKind
	Offset int64
}

func EarliestPosition() Position { return Position{Kind: Earliest} }
func LatestPosition() Position   { return Position{Kind: Latest} }

func OffsetPosition(off int64) Position {
	return Position{Kind: AtOffset, Offset: off}
}

func (p Position) String() string {
	switch p.Kind {
	case Earliest:
		return "earliest"
	case Latest:
		return "latest"
	default:
		return "offset:" + strconv.FormatInt(p.Offset, 10)
	}
}

// ParsePosition accepts the two symbolic start positions used in
// configuration.
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "earliest", "oldest":
		return EarliestPosition(), nil
	case "latest", "newest", "":
		return LatestPosition(), nil
	}
	return Position{}, fmt.Errorf("unknown start position %q (want earliest|latest)", s)
}

// SortPartitions orders partition ids numerically when both ids are
// integers and lexically otherwise, so "10" sorts after "9".
func SortPartitions(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
}
