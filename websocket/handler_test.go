package websocket

import (
	"testing"
	"time"

	"github.com/aukilabs/spatial/featureflag"
	"github.com/aukilabs/spatial/models"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func send(t *testing.T, conn *websocket.Conn, raw string) {
	require.NoError(t, websocket.Message.Send(conn, raw))
}

func receive(t *testing.T, conn *websocket.Conn) Msg {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second*2)))

	var data []byte
	require.NoError(t, websocket.Message.Receive(conn, &data))

	var msg Msg
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func spawn(t *testing.T, world *models.World, x, y float64) *models.Body {
	b, err := world.Spawn(models.Vector2{X: x, Y: y}, models.Vector2{X: 2, Y: 2}, models.Vector2{})
	require.NoError(t, err)
	return b
}

func TestHandlerHandleViewport(t *testing.T) {
	world := NewTestWorld(t)
	inside := spawn(t, world, 10, 10)
	spawn(t, world, 80, 80)

	client, close := NewTestingEnv(t, newTestHandler(world, time.Minute))
	defer close()

	send(t, client, `{"type":"viewport","area":{"x":0,"y":0,"w":20,"h":20}}`)

	snapshot := receive(t, client)
	require.Equal(t, MsgTypeBodies, snapshot.Type)
	require.Len(t, snapshot.Bodies, 1)
	require.Equal(t, inside.ID, snapshot.Bodies[0].ID)
	require.Equal(t, float64(10), snapshot.Bodies[0].X)

	frame := receive(t, client)
	require.Equal(t, MsgTypeBodies, frame.Type)
	require.NotZero(t, frame.Frame)
	require.Len(t, frame.Bodies, 1)
}

func TestHandlerStreamsMovingBodies(t *testing.T) {
	world := NewTestWorld(t)
	b, err := world.Spawn(models.Vector2{X: 10, Y: 50}, models.Vector2{X: 2, Y: 2}, models.Vector2{X: 50})
	require.NoError(t, err)

	client, close := NewTestingEnv(t, newTestHandler(world, time.Minute))
	defer close()

	send(t, client, `{"type":"viewport","area":{"x":0,"y":0,"w":100,"h":100}}`)
	first := receive(t, client)
	require.Len(t, first.Bodies, 1)

	var last Msg
	for i := 0; i < 3; i++ {
		last = receive(t, client)
	}
	require.Len(t, last.Bodies, 1)
	require.Equal(t, b.ID, last.Bodies[0].ID)
	require.Greater(t, last.Frame, first.Frame)
	require.NotEqual(t, first.Bodies[0].X, last.Bodies[0].X)
}

func TestHandlerInvalidMessages(t *testing.T) {
	world := NewTestWorld(t)
	spawn(t, world, 10, 10)

	client, close := NewTestingEnv(t, newTestHandler(world, time.Minute))
	defer close()

	t.Run("malformed json", func(t *testing.T) {
		send(t, client, `{"type":`)
		msg := receive(t, client)
		require.Equal(t, MsgTypeError, msg.Type)
		require.NotEmpty(t, msg.Error)
	})

	t.Run("unknown type", func(t *testing.T) {
		send(t, client, `{"type":"teleport"}`)
		msg := receive(t, client)
		require.Equal(t, MsgTypeError, msg.Type)
		require.NotEmpty(t, msg.Error)
	})

	t.Run("viewport without area", func(t *testing.T) {
		send(t, client, `{"type":"viewport"}`)
		msg := receive(t, client)
		require.Equal(t, MsgTypeError, msg.Type)
	})

	t.Run("zero area viewport", func(t *testing.T) {
		send(t, client, `{"type":"viewport","area":{"x":0,"y":0,"w":0,"h":20}}`)
		msg := receive(t, client)
		require.Equal(t, MsgTypeError, msg.Type)
	})

	t.Run("connection is still usable", func(t *testing.T) {
		send(t, client, `{"type":"viewport","area":{"x":0,"y":0,"w":20,"h":20}}`)
		msg := receive(t, client)
		require.Equal(t, MsgTypeBodies, msg.Type)
		require.Len(t, msg.Bodies, 1)
	})
}

func TestHandlerIdleTimeout(t *testing.T) {
	world := NewTestWorld(t)

	client, close := NewTestingEnv(t, newTestHandler(world, time.Millisecond*50))
	defer close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second*2)))

	var data []byte
	err := websocket.Message.Receive(client, &data)
	require.Error(t, err)
}

func TestHandlerBroadcastDisabled(t *testing.T) {
	world := NewTestWorld(t)
	spawn(t, world, 10, 10)

	client, close := NewTestingEnv(t, func() Handler {
		return HandlerWithLogs(&ViewerHandler{
			World:             world,
			ClientIdleTimeout: time.Minute,
			FeatureFlags:      featureflag.New([]string{string(featureflag.FlagDisableViewerBroadcast)}),
		}, time.Second)
	})
	defer close()

	send(t, client, `{"type":"viewport","area":{"x":0,"y":0,"w":20,"h":20}}`)
	snapshot := receive(t, client)
	require.Equal(t, MsgTypeBodies, snapshot.Type)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Millisecond*100)))

	var data []byte
	err := websocket.Message.Receive(client, &data)
	require.Error(t, err)
}

func TestHandlerEmptyViewport(t *testing.T) {
	world := NewTestWorld(t)
	spawn(t, world, 80, 80)

	client, close := NewTestingEnv(t, newTestHandler(world, time.Minute))
	defer close()

	send(t, client, `{"type":"viewport","area":{"x":0,"y":0,"w":20,"h":20}}`)

	for i := 0; i < 2; i++ {
		require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second*2)))

		var data []byte
		require.NoError(t, websocket.Message.Receive(client, &data))
		require.Contains(t, string(data), `"bodies":[]`)
	}
}
