package chainmanager

import (
	"container/heap"

	"github.com/chainindexor/core/pkg/events"
)

// auxHeap is a container/heap min-heap of decoded events ordered by
// their ordering key. It holds late-arriving or dynamic-contract
// back-filled events that can't go through a fetcher's per-chain
// queue without breaking that chain's monotonicity invariant.
//
// No library in the retrieved corpus offers a ready-made priority
// queue; container/heap is the standard, idiomatic choice for this.
type auxHeap []*events.DecodedEvent

func (h auxHeap) Len() int { return len(h) }

func (h auxHeap) Less(i, j int) bool {
	return h[i].OrderKey.Less(h[j].OrderKey)
}

func (h auxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *auxHeap) Push(x any) {
	*h = append(*h, x.(*events.DecodedEvent))
}

func (h *auxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

var _ = heap.Interface(&auxHeap{})
