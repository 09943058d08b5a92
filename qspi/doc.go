// Package qspi drives the QUADSPI controller.
//
// A [Command] describes the five phases of a transaction: instruction,
// address, alternate bytes, dummy cycles and data. Each phase runs on one,
// two or four lines, or is skipped. The controller starts a command on
// its own once the last field the command needs has been written, so the
// driver always programs DLR, ABR, CCR and AR in that order and writes DR
// last.
//
// [New] returns an [Indirect] controller, which moves data through the
// FIFO: [Indirect.Read], [Indirect.Write] and the hardware status
// polling of [Indirect.Poll]. [Indirect.MemoryMapped] trades it for a
// [MemoryMapped] controller that serves reads of the 0x9000_0000 window
// with a fixed read command; [MemoryMapped.Indirect] aborts the mapping
// and hands the indirect controller back.
package qspi
