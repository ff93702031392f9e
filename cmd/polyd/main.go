// polyd serves HTTP/1, HTTP/2, HTTP/3, WebSocket, gRPC and MQTT from a
// single listener.
package main

import "github.com/getmockd/polyd/pkg/cli"

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildDate = Version, Commit, BuildDate
	cli.Execute()
}
