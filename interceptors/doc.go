// Package interceptors wraps a messaging.Handler with cross-cutting
// behavior.
//
// Interceptors run in the order they are added, the handler last:
//
//	handler := interceptors.NewChain(logger).
//		Add(interceptors.NewLoggingInterceptor(logger)).
//		Add(interceptors.NewTimeoutInterceptor(30 * time.Second)).
//		Add(interceptors.NewRetryInterceptor(3, 100*time.Millisecond)).
//		Then(businessHandler)
//
//	client.Receiver("cust.register", handler)
//
// Custom interceptors implement Interceptor or use NewInterceptorFunc.
package interceptors
