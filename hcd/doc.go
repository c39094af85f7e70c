// Package hcd implements the transfer scheduling engine of an EHCI-style
// USB 2.0 host controller driver.
//
// The scheduler programs a host controller to autonomously walk in-memory
// descriptor lists and execute control, bulk, and interrupt transfers.
// Software enqueues work in mainline context while the hardware agent
// traverses the same structures concurrently; the two sides synchronize only
// through the interrupt channel and a strict field-ordering discipline.
//
// # Data Structures
//
//   - TransferDescriptor: one DMA transaction (buffer, direction, status)
//   - QueueHead: one logical pipe's transfer queue and live overlay state
//   - Asynchronous list: circular queue head chain for control/bulk pipes
//   - Periodic frame list: indexed-by-frame chain for interrupt pipes
//
// # Lifecycle
//
// A pipe is opened (allocating and linking a queue head), carries transfers
// (chains of transfer descriptors attached to the queue head), and is closed
// through a two-phase removal protocol: the queue head is first tagged and
// unlinked, and its memory is reclaimed only after the controller signals,
// via the async-advance doorbell, that it holds no cached reference to the
// removed entry. Freeing earlier is a use-after-free against the DMA agent.
//
// # Interrupt Dispatch
//
// ControllerISR demultiplexes the status register into transfer-error,
// completion, port-change, and async-advance events, in that fixed order.
// Completion and error notifications reach the upper host stack through the
// EventHandler callbacks, invoked from interrupt context; handlers must not
// block.
//
// Hardware access goes exclusively through the hal.Registers contract; the
// hal/sim package provides a software register file, and Engine plays the
// hardware agent's role for tests and host-less development.
package hcd
