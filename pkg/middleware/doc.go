// Package middleware composes ordered interceptors and a terminal handler
// into one continuation over any context type.
//
// Build folds the middleware list from the end, so the terminal handler is
// the innermost continuation and middlewares run in the order they were
// listed:
//
//	chain := middleware.Build([]middleware.Middleware[*web.Context]{auth, logger}, endpoint)
//	c = chain.Run(ctx, c)
//
// A middleware may mutate the context, short-circuit by returning without
// calling next, or call next and post-process the result. The next
// continuation handed to a middleware runs the rest of the chain at most
// once per invocation.
package middleware
