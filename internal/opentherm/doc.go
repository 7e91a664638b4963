// Package opentherm implements the OpenTherm frame codec and the OpenTherm
// Gateway (OTGW) serial conventions used by the gateway core.
//
// This package provides:
//   - Message and MsgType: the 32-bit OpenTherm frame as a typed value
//   - Encode/Decode: bit-exact frame conversion with parity and range checks
//   - ParseLine/FormatRequest: the OTGW textual line format ("B40190000")
//   - Command/ParseReply: OTGW gateway commands ("CS=45.00") and their replies
//   - Catalog: the closed table of supported data items and their shapes
//
// # Frame Layout
//
//	bit  31     parity (even parity over all 32 bits)
//	bits 30-28  message type
//	bits 27-24  spare (always zero on encode)
//	bits 23-16  data id
//	bits 15-0   data value (f8.8, u16, s16, two bytes, or flags)
//
// # Statelessness
//
// Every function in this package is pure. Decoding failures are reported as
// errors wrapping ErrMalformed and never have side effects; retry and
// sequencing live in the sequencer package.
//
// # References
//
//   - OpenTherm Protocol Specification v2.2
//   - OTGW firmware command reference (otgw.tclcode.com)
package opentherm
