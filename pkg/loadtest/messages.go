package loadtest

import "github.com/informalsystems/frameload/pkg/frame"

// msgTypes the load generator itself knows about.
const (
	MsgHeartbeat = frame.TypeHeartbeat
	MsgEcho      = frame.TypeEcho
	MsgError     = frame.TypeError
)

var defaultErrorMsgTypes = []uint{uint(MsgError), 65000, 65001, 65002, 65003}
