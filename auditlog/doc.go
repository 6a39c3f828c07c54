// Package auditlog decides where audit records end up once they leave the
// audit queue.
//
// A Sink stores records. SlogSink writes them as structured log lines,
// RedisSink appends them to a Redis stream, and MultiSink fans out to
// several sinks. Handler turns a Sink into a messaging.Handler so a
// Receiver bound to the audit queue can drain it:
//
//	sink := auditlog.MultiSink{auditlog.NewSlogSink(logger), redisSink}
//	r := messaging.NewReceiver(messaging.AuditInterfaceName, dest, consumer,
//		auditlog.NewHandler(sink))
package auditlog
