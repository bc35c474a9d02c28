package tracking

import (
	"fmt"
	"time"
)

// PartitionCount is the number of rotating event buffers
const PartitionCount = 2

// Partition selects one of the two event buffers
type Partition int

// Partitions lists every partition in order
var Partitions = [PartitionCount]Partition{0, 1}

func (p Partition) Valid() bool {
	return p >= 0 && p < PartitionCount
}

// Other returns the partition that is not p
func (p Partition) Other() Partition {
	return (p + 1) % PartitionCount
}

// Table is the warehouse table backing the partition
func (p Partition) Table() string {
	return fmt.Sprintf("events_%d", int(p))
}

func (p Partition) String() string {
	return p.Table()
}

// DaysSinceEpoch counts calendar days between 1970-01-01 and the date of t in loc
func DaysSinceEpoch(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// PartitionFor is the partition that holds events written on t's day
func PartitionFor(t time.Time, loc *time.Location) Partition {
	days := DaysSinceEpoch(t, loc) % PartitionCount
	if days < 0 {
		days += PartitionCount
	}
	return Partition(days)
}

// DayStart is midnight of t's day in loc. It is the close-out boundary.
func DayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
