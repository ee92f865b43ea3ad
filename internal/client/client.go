// Package client is a Go observer for a cultist lobby. It keeps local mirrors
// of the replicated roster, readiness and session snapshots, remembers the
// caller's private role, and sends participant commands.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/replica"
	"github.com/DoyleJ11/cultist-backend/internal/roster"
	"github.com/DoyleJ11/cultist-backend/internal/types"
)

var ErrClosed = errors.New("client closed")

type Options struct {
	// Name joins the roster right after connecting. Empty connects as a pure observer.
	Name string
	// EventBuffer bounds the discrete event queue. Events beyond it are dropped.
	EventBuffer int
	Logger      *zap.Logger
}

type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	roster  *replica.Mirror[roster.Snapshot]
	ready   *replica.Mirror[roster.Snapshot]
	session *replica.Mirror[engine.Status]

	events  chan types.ServerMessage
	welcome chan struct{}
	done    chan struct{}

	mu   sync.Mutex
	id   roster.ConnID
	role roster.Role
	err  error
}

// Dial connects to the lobby code on server (an http or ws base URL) and
// returns once the server has assigned a connection id.
func Dial(ctx context.Context, server, code string, opts Options) (*Client, error) {
	u, err := wsURL(server, code, opts.Name)
	if err != nil {
		return nil, err
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", code, err)
	}

	c := &Client{
		conn:    conn,
		log:     opts.Logger.With(zap.String("lobby", code)),
		roster:  replica.NewMirror[roster.Snapshot](),
		ready:   replica.NewMirror[roster.Snapshot](),
		session: replica.NewMirror[engine.Status](),
		events:  make(chan types.ServerMessage, opts.EventBuffer),
		welcome: make(chan struct{}),
		done:    make(chan struct{}),
		role:    roster.RoleUnassigned,
	}
	go c.readLoop()

	select {
	case <-c.welcome:
		return c, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}
}

func wsURL(server, code, name string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	q.Set("code", code)
	if name != "" {
		q.Set("name", name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	var welcomed bool
	for {
		var m types.ServerMessage
		if err := wsjson.Read(context.Background(), c.conn, &m); err != nil {
			c.mu.Lock()
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.err = ErrClosed
			} else {
				c.err = err
			}
			c.mu.Unlock()
			return
		}

		switch m.Type {
		case types.MsgWelcome:
			c.mu.Lock()
			c.id = m.ClientID
			c.mu.Unlock()
			if !welcomed {
				welcomed = true
				close(c.welcome)
			}
			continue

		case types.MsgRosterChanged:
			c.roster.Apply(replica.Update[roster.Snapshot]{Version: m.Version, Value: m.Roster})
			continue

		case types.MsgReadyStateChanged:
			c.ready.Apply(replica.Update[roster.Snapshot]{Version: m.Version, Value: m.Roster})
			continue

		case types.MsgSessionSnapshot:
			if m.Session != nil {
				c.session.Apply(replica.Update[engine.Status]{Version: m.Version, Value: *m.Session})
			}
			continue

		case types.MsgRoleAssigned:
			c.mu.Lock()
			c.role = m.Role
			c.mu.Unlock()
		}

		select {
		case c.events <- m:
		default:
			c.log.Warn("event queue full, dropping", zap.String("type", m.Type))
		}
	}
}

// ID is the server-assigned connection id.
func (c *Client) ID() roster.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Role is the caller's own role, RoleUnassigned until the session starts.
func (c *Client) Role() roster.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) Roster() *replica.Mirror[roster.Snapshot] { return c.roster }

func (c *Client) Ready() *replica.Mirror[roster.Snapshot] { return c.ready }

func (c *Client) Session() *replica.Mirror[engine.Status] { return c.session }

// Events delivers discrete messages: state changes, role assignment, game end
// and rejections. It is closed when the connection ends.
func (c *Client) Events() <-chan types.ServerMessage { return c.events }

func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) send(ctx context.Context, m types.ClientMessage) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return wsjson.Write(ctx, c.conn, m)
}

func (c *Client) Join(ctx context.Context, name string) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgJoin, Name: name})
}

func (c *Client) Leave(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgLeave})
}

func (c *Client) SetReady(ctx context.Context, ready bool) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgSetReady, Ready: ready})
}

func (c *Client) Start(ctx context.Context, force bool) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgStart, Force: force})
}

func (c *Client) CompleteTask(ctx context.Context) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgCompleteTask})
}

func (c *Client) Eliminate(ctx context.Context, target roster.ConnID) error {
	return c.send(ctx, types.ClientMessage{Type: types.MsgEliminate, Target: string(target)})
}

// Close ends the connection and waits for the read loop to stop.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}
