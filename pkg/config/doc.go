// Package config loads the server configuration.
//
// Configuration is a single YAML document. Durations are written as Go
// duration strings:
//
//	listen: ":8080"
//	http3Listen: ":8443"
//	metricsListen: ":9090"
//	protocols: [http2, http1, websocket, mqtt]
//	tls:
//	  autoCert: true
//	timeouts:
//	  detect: 5s
//	  frame: 5s
//	  connection: 30s
//	  shutdown: 10s
//	maxBodyBytes: 10485760
//	log:
//	  level: info
//	  format: json
//	auth:
//	  jwtSecret: change-me
//	limits:
//	  connectionRate: 100
//	  requestRate: 50
//	tracing:
//	  enabled: true
//	  exporter: stdout
//	mqtt:
//	  users:
//	    - username: device
//	      password: secret
//
// Fields left out keep the values of DefaultServerConfiguration.
package config
