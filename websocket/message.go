package websocket

import (
	"github.com/aukilabs/spatial/models"
	"github.com/aukilabs/spatial/quadtree"
	"github.com/segmentio/encoding/json"
)

const (
	MsgTypeViewport = "viewport"
	MsgTypeBodies   = "bodies"
	MsgTypeError    = "error"
)

// Msg is a JSON message exchanged with a viewer.
type Msg struct {
	Type   string            `json:"type"`
	Area   *quadtree.Rect    `json:"area,omitempty"`
	Frame  uint64            `json:"frame,omitempty"`
	Bodies []models.BodyView `json:"bodies,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// MarshalJSON encodes the message. Bodies messages always carry their frame
// and a bodies list, empty when the viewport holds no body.
func (m Msg) MarshalJSON() ([]byte, error) {
	type msg Msg
	if m.Type != MsgTypeBodies {
		return json.Marshal(msg(m))
	}

	bodies := m.Bodies
	if bodies == nil {
		bodies = []models.BodyView{}
	}

	return json.Marshal(struct {
		Type   string            `json:"type"`
		Frame  uint64            `json:"frame"`
		Bodies []models.BodyView `json:"bodies"`
	}{
		Type:   m.Type,
		Frame:  m.Frame,
		Bodies: bodies,
	})
}

// TypeString returns the message type, or "unknown" when it is not set.
func (m Msg) TypeString() string {
	if m.Type == "" {
		return "unknown"
	}
	return m.Type
}

func newBodiesMsg(frame uint64, bodies []*models.Body) Msg {
	return Msg{
		Type:   MsgTypeBodies,
		Frame:  frame,
		Bodies: models.BodiesToViews(bodies),
	}
}

func newErrorMsg(err error) Msg {
	return Msg{
		Type:  MsgTypeError,
		Error: err.Error(),
	}
}

// Receiver reads the next message from a connection. It returns the number
// of bytes read.
type Receiver func() (Msg, int, error)

// Sender writes a message to a connection. It returns the number of bytes
// written.
type Sender func(Msg) (int, error)

// ResponseSender queues messages to be sent to a viewer.
type ResponseSender interface {
	Send(Msg)
}
