package websocket

const (
	ErrTypeMsgDecode       = "websocket-msg-decode"
	ErrTypeMsgEncode       = "websocket-msg-encode"
	ErrTypeMsgUnknown      = "websocket-msg-unknown"
	ErrTypeInvalidViewport = "websocket-invalid-viewport"
)
