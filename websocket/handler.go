package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/spatial/models"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 64
	receiveChanSize = 16
)

// Handler represents a viewer handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to watch an area of the world.
	HandleViewport(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a world frame.
	HandleFrame(ctx context.Context, respond ResponseSender, frame uint64) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to write outgoing messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the watched world.
	GetWorld() *models.World

	// Get ClientID
	GetClientID() string
}

// Handle runs the given handler until the connection is closed, the client
// is idle for too long or ctx is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type inbound struct {
	msg Msg
	err error
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The viewer handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan inbound
	frameChan      chan uint64
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan inbound, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	// Frames are dropped while the previous one is still being handled.
	h.frameChan = make(chan uint64, 1)
	stopFrameHandling := h.Handler.GetWorld().HandleFrame(func(frame uint64) {
		select {
		case h.frameChan <- frame:
		default:
		}
	})
	defer stopFrameHandling()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender(h.send)

	for {
		select {
		case <-ctx.Done():
			h.handleDisconnect(ctx.Err())
			wg.Wait()
			return

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case frame := <-h.frameChan:
			if err := h.Handler.HandleFrame(ctx, responder, frame); err != nil {
				h.disconnect(errors.New("handling frame failed").
					WithTag("frame", frame).
					Wrap(err))
			}

		case in := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if in.err != nil {
				responder.Send(newErrorMsg(in.err))
				continue
			}

			if err := h.handleMessage(ctx, in.msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			// cancel context so go routines can cleanly exit
			cancel()
			wg.Wait()
			return
		}
	}
}

func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		h.disconnect(errors.New("send queue is full").
			WithTag("msg_type", msg.TypeString()).
			WithTag("size", sendChanSize))
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if err != nil && !errors.IsType(err, ErrTypeMsgDecode) {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return

		case h.receiveChan <- inbound{msg: msg, err: err}:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypeViewport:
		return h.Handler.HandleViewport(ctx, responder, msg)

	default:
		responder.Send(newErrorMsg(errors.New("unknown message type").
			WithType(ErrTypeMsgUnknown).
			WithTag("msg_type", msg.TypeString())))
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender func(Msg)

func (r responseSender) Send(msg Msg) {
	r(msg)
}
