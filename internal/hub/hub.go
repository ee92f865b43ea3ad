package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/lobby"
)

var (
	ErrNotFound = errors.New("lobby not found")
	ErrClosed   = errors.New("hub closed")
)

const codeLength = 6

type HubMsg interface{ isHubMsg() }

// CreateLobby opens a lobby under a fresh code. Reply receives nil if the
// lobby could not be built.
type CreateLobby struct {
	Reply chan *lobby.Lobby
}

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// RemoveLobby forgets Lobby if it is still registered under Code.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateLobby) isHubMsg()  {}
func (GetLobby) isHubMsg()     {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Options struct {
	Rules  engine.Rules
	Logger *zap.Logger
	// Rand overrides role assignment randomness for every lobby. Nil means a
	// fresh secure source per lobby.
	Rand engine.Picker
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		opts:    opts,
		log:     opts.Logger.Named("hub"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateLobby:
				msg.Reply <- h.create()

			case GetLobby:
				msg.Reply <- h.lobbies[NormalizeCode(msg.Code)] // May be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Code]; lb != nil && lb == msg.Lobby {
					delete(h.lobbies, msg.Code)
					h.log.Info("lobby removed", zap.String("lobby", msg.Code), zap.Int("lobbies", len(h.lobbies)))
				}

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create() *lobby.Lobby {
	var code string
	for {
		c, err := GenerateCode()
		if err != nil {
			h.log.Error("failed to generate lobby code", zap.Error(err))
			return nil
		}
		if h.lobbies[c] == nil {
			code = c
			break
		}
		h.log.Debug("collision on code, regenerating", zap.String("lobby", c))
	}

	lb, err := lobby.NewLobby(h.ctx, lobby.Options{
		Code:   code,
		Rules:  h.opts.Rules,
		Rand:   h.opts.Rand,
		Logger: h.opts.Logger,
	})
	if err != nil {
		h.log.Error("failed to create lobby", zap.Error(err))
		return nil
	}
	h.lobbies[code] = lb
	go h.watch(lb)

	h.log.Info("lobby created", zap.String("lobby", code), zap.Int("lobbies", len(h.lobbies)))
	return lb
}

// watch unregisters lb once its loop exits on its own.
func (h *Hub) watch(lb *lobby.Lobby) {
	select {
	case <-lb.Done():
		select {
		case h.inbox <- RemoveLobby{Code: lb.Code(), Lobby: lb}:
		case <-h.ctx.Done():
		}
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		_ = lb.Send(h.ctx, lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
	h.log.Info("hub stopped")
}

func (h *Hub) ask(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create opens a new lobby and returns it.
func (h *Hub) Create(ctx context.Context) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.ask(ctx, CreateLobby{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		if lb == nil {
			return nil, errors.New("lobby could not be created")
		}
		return lb, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get looks up a lobby by code. Codes are matched case-insensitively.
func (h *Hub) Get(ctx context.Context, code string) (*lobby.Lobby, error) {
	reply := make(chan *lobby.Lobby, 1)
	if err := h.ask(ctx, GetLobby{Code: code, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case lb := <-reply:
		if lb == nil {
			return nil, ErrNotFound
		}
		return lb, nil
	case <-h.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.ask(ctx, CountLobbies{Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Shutdown closes every lobby and waits for the hub loop to exit.
func (h *Hub) Shutdown(ctx context.Context) error {
	if err := h.ask(ctx, ShutdownHub{}); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, codeLength)
	for i := 0; i < codeLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
