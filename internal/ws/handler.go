package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/hub"
	"github.com/DoyleJ11/cultist-backend/internal/lobby"
	"github.com/DoyleJ11/cultist-backend/internal/roster"
	"github.com/DoyleJ11/cultist-backend/internal/types"
)

type Options struct {
	ClientBuffer int
	WriteTimeout time.Duration
	PingInterval time.Duration
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*" in development.
	OriginPatterns []string
	Logger         *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ClientBuffer <= 0 {
		o.ClientBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts = opts.withDefaults()

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		lb, err := h.Get(r.Context(), code)
		if errors.Is(err, hub.ErrNotFound) {
			http.Error(w, "lobby not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "lobby unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := roster.ConnID(uuid.NewString())
		log := opts.Logger.With(zap.String("lobby", lb.Code()), zap.String("client", string(clientID)))

		out := make(chan types.ServerMessage, opts.ClientBuffer)
		if err := lb.Send(r.Context(), lobby.Connect{ClientID: clientID, Outbox: out}); err != nil {
			conn.Close(websocket.StatusGoingAway, "lobby closed")
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = lb.Send(ctx, lobby.Disconnect{ClientID: clientID})
		}()

		if name := r.URL.Query().Get("name"); name != "" {
			_ = lb.Send(r.Context(), lobby.FromClient{
				ClientID: clientID,
				Cmd:      engine.Command{Type: engine.CmdJoin, Name: name},
			})
		}

		// Writer goroutine
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go writePump(ctx, cancel, conn, out, opts, log)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				reply(ctx, conn, opts.WriteTimeout, types.ServerMessage{
					Type:  types.MsgRejected,
					Code:  engine.CodeUnsupportedCommand,
					Error: "bad json",
				})
				continue
			}

			cmd, ok := toEngineCommand(cm)
			if !ok {
				reply(ctx, conn, opts.WriteTimeout, types.ServerMessage{
					Type:    types.MsgRejected,
					Command: cm.Type,
					Code:    engine.CodeUnsupportedCommand,
					Error:   "unknown type",
				})
				continue
			}

			if err := lb.Send(ctx, lobby.FromClient{ClientID: clientID, Cmd: cmd}); err != nil {
				conn.Close(websocket.StatusGoingAway, "lobby closed")
				return
			}
		}
	}
}

// writePump drains the outbox and keeps the connection alive with pings. It
// closes the connection when the lobby closes the outbox.
func writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan types.ServerMessage, opts Options, log *zap.Logger) {
	ticker := time.NewTicker(opts.PingInterval)
	defer func() {
		ticker.Stop()
		cancel()
	}()

	for {
		select {
		case msg, ok := <-out:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "disconnected by lobby")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, msg)
			wcancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				log.Debug("ping failed", zap.Error(err))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func reply(ctx context.Context, conn *websocket.Conn, timeout time.Duration, msg types.ServerMessage) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = wsjson.Write(wctx, conn, msg)
}

func toEngineCommand(m types.ClientMessage) (engine.Command, bool) {
	switch m.Type {
	case types.MsgJoin:
		return engine.Command{Type: engine.CmdJoin, Name: m.Name}, true
	case types.MsgLeave:
		return engine.Command{Type: engine.CmdLeave}, true
	case types.MsgSetReady:
		return engine.Command{Type: engine.CmdSetReady, Ready: m.Ready}, true
	case types.MsgStart:
		return engine.Command{Type: engine.CmdStart, Force: m.Force}, true
	case types.MsgCompleteTask:
		return engine.Command{Type: engine.CmdCompleteTask}, true
	case types.MsgEliminate:
		return engine.Command{Type: engine.CmdEliminate, Target: roster.ConnID(m.Target)}, true
	default:
		return engine.Command{}, false
	}
}
