package hcd

import (
	"github.com/ardnew/ehcihost/pkg"
)

// listInsert splices node immediately after anchor. The node's own link is
// written before the anchor's, so a hardware traversal running concurrently
// never observes a half-linked element: until the final store, the new node
// is invisible; after it, the node is fully self-consistent.
func listInsert(anchor, node *QueueHead, elementType ElementType) {
	node.next = anchor.next
	anchor.next = Link{Type: elementType, QH: node}
}

// findPreviousQueueHead walks the list from head looking for the element
// whose link references target. Returns nil if the list wraps back to head
// (or terminates) first. The walk is bounded by maxNodes so a corrupted
// chain cannot hang the caller.
func findPreviousQueueHead(head, target *QueueHead, maxNodes int) *QueueHead {
	prev := head
	for i := 0; i < maxNodes; i++ {
		if prev.next.Terminate {
			return nil
		}
		next := prev.next.QH
		if next == nil || next == head {
			return nil
		}
		if next == target {
			return prev
		}
		prev = next
	}
	return nil
}

// listRemove unlinks target from the list rooted at head. The predecessor
// is repointed past target, and target's own link is steered back at head:
// a hardware traversal already holding a cached pointer into target is then
// guided into the live list instead of off into reclaimed memory
// (EHCI 4.8.2).
//
// Removal only unlinks. Asynchronous entries additionally require the
// async-advance doorbell handshake before their slot may be reused;
// periodic entries may be reused after one full frame period.
func listRemove(head, target *QueueHead, maxNodes int) error {
	prev := findPreviousQueueHead(head, target, maxNodes)
	if prev == nil {
		return pkg.ErrListCorrupt
	}

	prev.next = target.next
	target.next = queueHeadLink(head)
	return nil
}
