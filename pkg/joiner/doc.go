// Package joiner sequences a raw capture into a corrected, de-duplicated
// record stream.
//
// # Overview
//
// The sniffer streams NAND bus cycles, SD traffic and host commands through
// an internal buffer. When that buffer overflows the hardware reports an FPGA
// overflow error and later resumes from an earlier buffer position: the live
// stream then repeats cycles that were already delivered, stamped by a clock
// that no longer agrees with what came before.
//
// The Controller walks the capture as a state machine:
//
//	Searching   NAND cycles pass through; other records are held back
//	Draining    a buffer drain is in progress; cycles pass through
//	Overflowed  a gap is pending; the next NAND cycle starts a join
//	Joining     the live run is aligned against recent history, repeated
//	            cycles are dropped and the rest re-timed
//	Backtrack   held records are replayed with the correction that applies
//	            to their side of the gap, up to the sync marker
//	Done        input exhausted
//
// Records other than NAND cycles are held until the next sync marker (a hello
// record or the configured sync command) because the correction for records
// captured after a gap is only known once the following NAND run has been
// joined.
//
// The Controller implements decoder.Source, so the decoder reads corrected
// records directly.
package joiner
