package main

import (
	"github.com/informalsystems/frameload/pkg/loadtest"
)

const appLongDesc = `Load testing tool for servers speaking a length-prefixed binary protocol.
Opens a number of concurrent connections to the server under test, sends
fixed-size frames on each at a paced rate for a fixed duration, counts the
frames that come back and prints an aggregated report.

Every frame on the wire looks like:
    uint32 length (big-endian) | uint16 msgType (big-endian) | payload
where length covers the msgType and the payload.

To send 100 echo frames per second over 10 connections for 10 seconds:
    frameload -H 127.0.0.1 -P 9000 -c 10 -r 100 -T 10s -m 2 -s 16

To do the same over WebSockets, exporting Prometheus metrics during the run:
    frameload --transport ws --ws-path /frames -P 9001 \
        --metrics-addr 127.0.0.1:9102
`

func main() {
	loadtest.Run(&loadtest.CLIConfig{
		AppName:      "frameload",
		AppShortDesc: "Load testing tool for length-prefixed binary protocol servers",
		AppLongDesc:  appLongDesc,
	})
}
