package modbusdevices

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// Span is the (address, length) footprint of one datapoint.
type Span struct {
	Address uint16
	Length  uint16
}

func (s Span) end() uint32 { return uint32(s.Address) + uint32(s.Length) }

// Block is one read request.
type Block struct {
	Start uint16
	Count uint16
}

// End is the first address after the block.
func (b Block) End() uint32 { return uint32(b.Start) + uint32(b.Count) }

func (b Block) contains(s Span) bool {
	return s.Address >= b.Start && s.end() <= b.End()
}

// PlanBlocks groups spans into read requests.
/*
	Spans are merged while the gap to the previous span is at most maxGap and
	the request stays within maxSpan. A span is never split, so a span longer
	than maxSpan gets a request of its own (load time validation rejects those).

	For example, with maxGap 2 and maxSpan 125:
		(0,1) (1,1) (3,1) (10,2)  ->  [0,4) [10,12)
*/
func PlanBlocks(spans []Span, maxSpan, maxGap uint16) []Block {
	if len(spans) == 0 {
		return nil
	}
	sorted := slices.Clone(spans)
	slices.SortFunc(sorted, func(a, b Span) int {
		if a.Address != b.Address {
			return int(a.Address) - int(b.Address)
		}
		return int(a.Length) - int(b.Length)
	})

	var bs []Block
	start := uint32(sorted[0].Address)
	end := sorted[0].end()
	for _, s := range sorted[1:] {
		next := max(end, s.end())
		var gap uint32
		if uint32(s.Address) > end {
			gap = uint32(s.Address) - end
		}
		if gap <= uint32(maxGap) && next-start <= uint32(maxSpan) {
			end = next
			continue
		}
		bs = append(bs, Block{Start: uint16(start), Count: uint16(end - start)})
		start = uint32(s.Address)
		end = s.end()
	}
	bs = append(bs, Block{Start: uint16(start), Count: uint16(end - start)})
	return bs
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
