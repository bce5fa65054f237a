// Package numbering assigns human-facing ticket numbers.  Numbers are drawn
// from a small fixed range per ticket type and the lowest free number is
// always picked, so a number comes back as soon as its ticket leaves the
// queue.  The functions only look at the numbers passed in; there is no
// global counter.
package numbering

import (
	"errors"
	"fmt"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// Upper bounds of the numbering range, per type.
const (
	MaxPreferential = 2
	MaxNormal       = 10
)

// Max returns the highest number a ticket of type t may carry, or 0 for an
// unknown type.
func Max(t model.TicketType) int {
	switch t {
	case model.TicketPreferential:
		return MaxPreferential
	case model.TicketNormal:
		return MaxNormal
	}
	return 0
}

// ErrRangeExhausted is returned by NextNumber when every number of the range
// is in use.  Callers add the attendant and turn it into a QueueFullError.
type ErrRangeExhausted struct {
	Type model.TicketType
}

func (e *ErrRangeExhausted) Error() string {
	return fmt.Sprintf("no free %s number in 1..%d", e.Type, Max(e.Type))
}

// ErrInsufficient is returned by NextNNumbers when fewer than the requested
// count of numbers are free.
type ErrInsufficient struct {
	Type      model.TicketType
	Available int
	Requested int
}

func (e *ErrInsufficient) Error() string {
	return fmt.Sprintf("%d %s numbers requested, %d available", e.Requested, e.Type, e.Available)
}

// NextNumber returns the lowest integer in 1..Max(t) that is not in inUse,
// or ErrRangeExhausted when the whole range is taken.
func NextNumber(t model.TicketType, inUse []int) (int, error) {
	nums, err := NextNNumbers(t, inUse, 1)
	var short *ErrInsufficient
	if errors.As(err, &short) {
		return 0, &ErrRangeExhausted{Type: t}
	}
	if err != nil {
		return 0, err
	}
	return nums[0], nil
}

// NextNNumbers returns the first count free integers of the range in
// ascending order.  It allocates all or nothing: when fewer than count are
// free it returns ErrInsufficient and no numbers.
func NextNNumbers(t model.TicketType, inUse []int, count int) ([]int, error) {
	top := Max(t)
	if top == 0 {
		return nil, fmt.Errorf("unknown ticket type %q", t)
	}
	if count < 1 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	taken := make(map[int]bool, len(inUse))
	for _, n := range inUse {
		taken[n] = true
	}
	free := make([]int, 0, top)
	for n := 1; n <= top; n++ {
		if !taken[n] {
			free = append(free, n)
		}
	}
	if len(free) < count {
		return nil, &ErrInsufficient{Type: t, Available: len(free), Requested: count}
	}
	return free[:count], nil
}

// InUse collects the numbers of type t held by open tickets.  Completed
// tickets are skipped so their numbers can be handed out again.
func InUse(t model.TicketType, tickets []model.Ticket) []int {
	out := make([]int, 0, len(tickets))
	for _, tk := range tickets {
		if tk.Type == t && tk.Status.Open() {
			out = append(out, tk.Number)
		}
	}
	return out
}

// Label renders the human number for type t, e.g. Label(normal, 3) == "N3".
func Label(t model.TicketType, n int) string {
	return fmt.Sprintf("%s%d", t.Prefix(), n)
}

// NextHint advances a display counter past last, wrapping to 1 after the
// top of the range.
func NextHint(t model.TicketType, last int) int {
	top := Max(t)
	if top == 0 || last >= top || last < 1 {
		return 1
	}
	return last + 1
}
