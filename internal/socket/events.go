package socket

// Server handshake events carried on the transport channel. The server
// sends exactly one of accept/reject after the upgrade completes.
const (
	EventConnectAccept = "server:connect:accept"
	EventConnectReject = "server:connect:reject"
)

// Client-originated events.
const (
	EventUserFetch = "client:user:fetch"
)

// Bus topics published by a Machine on its own event bus. Each machine
// owns a private bus, so topics carry no namespace of their own.
const (
	TopicStateChange       = "socket:state:change"
	TopicConnectSuccess    = "socket:connect:success"
	TopicConnectFailed     = "socket:connect:failed"
	TopicDisconnectSuccess = "socket:disconnect:success"
	TopicDisconnectFailed  = "socket:disconnect:failed"
	TopicDisconnectForce   = "socket:disconnect:force"
)
