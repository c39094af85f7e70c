package hcd

import (
	"time"

	"github.com/ardnew/ehcihost/hcd/hal"
)

// Synthetic bus address layout. Descriptors never live on the general
// heap-of-the-moment; each arena slot has a fixed 32-byte aligned address
// presented at the hardware register boundary.
const (
	asyncHeadBase  = 0x10000000
	periodHeadBase = 0x10000800
	frameListBase  = 0x30000000 // 4096-byte aligned per slot requirement
	devicePoolBase = 0x20000000
)

func asyncHeadAddress(controllerID uint8) uint32 {
	return asyncHeadBase | uint32(controllerID)<<12
}

func periodHeadAddress(controllerID uint8) uint32 {
	return periodHeadBase | uint32(controllerID)<<12
}

func frameListAddress(controllerID uint8) uint32 {
	return frameListBase | uint32(controllerID)<<12
}

func queueHeadAddress(deviceSlot, index int) uint32 {
	return devicePoolBase | uint32(deviceSlot)<<16 | uint32(index+1)<<6
}

func controlQueueHeadAddress(deviceSlot int) uint32 {
	return devicePoolBase | uint32(deviceSlot)<<16
}

// devicePool holds one device slot's fixed-capacity descriptor arenas: the
// dedicated control queue head with its three control-phase descriptors,
// plus the shared pools for bulk/interrupt pipes. Arenas are allocated once
// at driver init and never grow.
type devicePool struct {
	controlQH  QueueHead
	controlQTD [3]TransferDescriptor

	qh  []QueueHead
	qtd []TransferDescriptor
}

// newDevicePool builds the arena for one device slot, assigning each queue
// head its fixed bus address and pool index.
func newDevicePool(cfg Config, deviceSlot int) *devicePool {
	p := &devicePool{
		qh:  make([]QueueHead, cfg.QueueHeadsPerDevice),
		qtd: make([]TransferDescriptor, cfg.TransferDescriptorsPerDevice),
	}
	p.controlQH.busAddress = controlQueueHeadAddress(deviceSlot)
	for i := range p.qh {
		p.qh[i].busAddress = queueHeadAddress(deviceSlot, i)
		p.qh[i].poolIndex = uint8(i)
	}
	return p
}

// findFreeQueueHead scans the arena for an unused slot. A periodic queue
// head whose removal is at least one frame period old is reclaimable: the
// controller is guaranteed not to revisit a periodic slot across frame
// boundaries. Asynchronous slots stay off limits until the async-advance
// handshake frees them.
func (p *devicePool) findFreeQueueHead() *QueueHead {
	for i := range p.qh {
		qh := &p.qh[i]
		if !qh.used {
			return qh
		}
	}
	for i := range p.qh {
		qh := &p.qh[i]
		if qh.isRemoving && qh.xferType == hal.TransferInterrupt &&
			time.Since(qh.removedAt) >= framePeriod {
			qh.isRemoving = false
			qh.used = false
			return qh
		}
	}
	return nil
}

// findFreeTransferDescriptor scans the arena for an unused slot.
func (p *devicePool) findFreeTransferDescriptor() *TransferDescriptor {
	for i := range p.qtd {
		if !p.qtd[i].used {
			return &p.qtd[i]
		}
	}
	return nil
}

// freeAll releases every descriptor in the arena. Callable only once the
// hardware is guaranteed to hold no cached reference to any of them.
func (p *devicePool) freeAll() {
	p.controlQH.used = false
	p.controlQH.isRemoving = false
	for i := range p.controlQTD {
		p.controlQTD[i].used = false
	}
	for i := range p.qh {
		p.qh[i].used = false
		p.qh[i].isRemoving = false
	}
	for i := range p.qtd {
		p.qtd[i].used = false
	}
}
