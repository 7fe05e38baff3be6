package relay

// Frame types exchanged with the relay server
const (
	FrameSubscribe   = "sub"
	FrameUnsubscribe = "unsub"
	FramePublish     = "pub"
	FrameMessage     = "msg"
	FrameError       = "error"
)

// Frame is the relay wire unit. Payload is opaque to the server.
type Frame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic,omitempty"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
