// Package client declares outbound operations and runs them through the
// connection pool.
//
// An Outpoint is a named outbound call: a route pattern, a terminal handler,
// middlewares and free-form configuration, registered once under
// (client, operation) and looked up at call time. The Registry is
// type-erased; Get recovers an outpoint only as the context type it was
// stored under and reports "not found" otherwise.
//
//	caller := client.NewHTTPCaller(pool)
//	api, _ := client.NewClient[*client.HTTPContext]("users-api", reg,
//	    client.WithBaseURL[*client.HTTPContext]("https://api.example.com"))
//	_, _ = api.Define("get-user").Route("/users/<int:id>").Handle(caller).Register()
//
//	c := http1.NewClientContext(nil)
//	c.Extensions().SetParam("id", "42")
//	out, err := api.Invoke(ctx, "get-user", c)
package client
