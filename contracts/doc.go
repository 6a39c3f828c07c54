// Package contracts defines the values that cross the messaging pipeline:
//   - Envelope: correlation metadata plus a codec-encoded payload
//   - RequestContext: per-call state shared with business handlers
//   - LogEvent: the audit record emitted after every send or processed delivery
//
// It also defines the error taxonomy used by senders and receivers.
package contracts
