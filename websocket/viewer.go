package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/spatial/featureflag"
	"github.com/aukilabs/spatial/models"
	"github.com/aukilabs/spatial/quadtree"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	// HeaderClientID is the request header carrying the viewer client id.
	HeaderClientID = "X-Client-Id"

	maxPayloadBytes = 4096
)

// ViewerHandler streams the bodies within a viewport of a world to a single
// websocket client.
type ViewerHandler struct {
	// The world watched by the viewer.
	World *models.World

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	FeatureFlags featureflag.FeatureFlag

	conn     *websocket.Conn
	viewport quadtree.Rect
	watching bool
	clientID string
}

func (h *ViewerHandler) HandleConnect(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxPayloadBytes
	h.conn = conn

	h.clientID = conn.Request().Header.Get(HeaderClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

// HandleViewport sets the area watched by the viewer and responds with the
// bodies it currently contains.
func (h *ViewerHandler) HandleViewport(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Area == nil || msg.Area.Empty() {
		respond.Send(newErrorMsg(errors.New("viewport area must have a positive width and height").
			WithType(ErrTypeInvalidViewport).
			WithTag("area", msg.Area)))
		return nil
	}

	h.viewport = *msg.Area
	h.watching = true

	respond.Send(newBodiesMsg(h.World.Frame(), h.World.Query(h.viewport)))
	return nil
}

// HandleFrame sends the bodies within the viewport once it is set.
func (h *ViewerHandler) HandleFrame(ctx context.Context, respond ResponseSender, frame uint64) error {
	if !h.watching || h.FeatureFlags.IsSet(featureflag.FlagDisableViewerBroadcast) {
		return nil
	}

	respond.Send(newBodiesMsg(frame, h.World.Query(h.viewport)))
	return nil
}

func (h *ViewerHandler) HandleDisconnect(_ error) {
	h.watching = false
}

func (h *ViewerHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(h.conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return Msg{}, len(data), errors.New("decoding message failed").
				WithType(ErrTypeMsgDecode).
				Wrap(err)
		}
		return msg, len(data), nil
	}
}

func (h *ViewerHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithType(ErrTypeMsgEncode).
				WithTag("msg_type", msg.TypeString()).
				Wrap(err)
		}

		if err := websocket.Message.Send(h.conn, string(data)); err != nil {
			return 0, err
		}
		return len(data), nil
	}
}

func (h *ViewerHandler) Close() {
}

func (h *ViewerHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *ViewerHandler) GetWorld() *models.World {
	return h.World
}

func (h *ViewerHandler) GetClientID() string {
	return h.clientID
}
