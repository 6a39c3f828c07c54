// Package messaging binds interface names to broker destinations.
//
// A Sender publishes envelopes to a configured exchange and routing key; a
// Receiver consumes a configured queue, hands every delivery to a Handler
// and acknowledges it according to the destination's failure policy. Both
// embed a ServiceBinding, which owns one-time initialization and builds the
// audit records that an AuditEmitter (usually an AuditLogPublisher) ships to
// the audit queue.
//
// Example:
//
//	sender := messaging.NewSender("cust.register", cfg.Sender("cust.register"), publisher,
//		messaging.WithAuditEmitter(auditPublisher),
//	)
//	env, err := contracts.NewEnvelopeFromPayload(customer, "", nil)
//	if err != nil {
//		return err
//	}
//	rc := contracts.NewRequestContext("cust.register", "")
//	if err := sender.Publish(ctx, rc, env); err != nil {
//		return err
//	}
package messaging
