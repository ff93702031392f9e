// Package mqtt binds MQTT to the protocol runtime.
//
// Connections opening with an MQTT CONNECT packet are detected on the
// shared listener and handed to an embedded mochi-mqtt broker. Messages
// published by clients are routed by topic through the middleware chain
// of the matching endpoint; topics use the route grammar with "/" as the
// level separator.
//
//	b, _ := mqtt.NewBroker()
//	_ = b.HandleFunc("devices/<id>/ping", func(ctx context.Context, c *mqtt.Context) *mqtt.Context {
//		return c.Reply("devices/"+c.Param("id")+"/pong", c.Payload)
//	})
//	_ = registry.Register(mqtt.New(b))
package mqtt
