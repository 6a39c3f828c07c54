// Package rabbitmq is the broker client underneath the messaging package.
//
// It provides:
//   - ConnectionManager: dials once and reconnects with exponential backoff
//   - Publisher: publishes on one shared, mutex-guarded channel, optionally with confirms
//   - Consumer: manual-ack consumption fanned out to a worker pool that grows
//     between a minimum and maximum size, plus a batching variant
//   - Topology: queue, exchange and binding declarations
package rabbitmq
