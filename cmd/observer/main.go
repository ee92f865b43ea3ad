package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/cultist-backend/internal/client"
	"github.com/DoyleJ11/cultist-backend/internal/engine"
	"github.com/DoyleJ11/cultist-backend/internal/replica"
	"github.com/DoyleJ11/cultist-backend/internal/roster"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	code := flag.String("code", "", "lobby code (empty creates a lobby)")
	name := flag.String("name", "", "display name to join with (empty only watches)")
	ready := flag.Bool("ready", false, "mark ready after joining")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	log, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, *server, *code, *name, *ready); err != nil {
		log.Fatal("observer stopped", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(log *zap.Logger, server, code, name string, ready bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if code == "" {
		c, err := createLobby(ctx, server)
		if err != nil {
			return err
		}
		code = c
		log.Info("lobby created", zap.String("lobby", code))
	}

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	c, err := client.Dial(dctx, server, code, client.Options{Name: name, Logger: log})
	if err != nil {
		return err
	}
	defer c.Close()
	log = log.With(zap.String("lobby", code), zap.String("client", string(c.ID())))
	log.Info("connected")

	if ready && name != "" {
		if err := c.SetReady(ctx, true); err != nil {
			return err
		}
	}

	logRoster := func(u replica.Update[roster.Snapshot]) {
		log.Info("roster", zap.Uint64("version", u.Version), zap.Strings("names", names(u.Value)))
	}
	logReady := func(u replica.Update[roster.Snapshot]) {
		log.Info("ready", zap.Uint64("version", u.Version), zap.Strings("ready", readyNames(u.Value)))
	}
	logSession := func(u replica.Update[engine.Status]) {
		log.Info("session",
			zap.Uint64("version", u.Version),
			zap.Stringer("state", u.Value.State),
			zap.Int("tasks_completed", u.Value.Counters.TasksCompleted),
			zap.Int("task_total", u.Value.Counters.TaskTotal),
			zap.Int("survivors_alive", u.Value.Counters.SurvivorsAlive))
	}
	defer c.Roster().Watch(logRoster)()
	defer c.Ready().Watch(logReady)()
	defer c.Session().Watch(logSession)()

	// Snapshots that arrived before the watchers were registered.
	if u, ok := c.Roster().Load(); ok {
		logRoster(u)
	}
	if u, ok := c.Ready().Load(); ok {
		logReady(u)
	}
	if u, ok := c.Session().Load(); ok {
		logSession(u)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.Events():
			if !ok {
				if err := c.Err(); err != nil && !errors.Is(err, client.ErrClosed) {
					return err
				}
				return nil
			}
			fields := []zap.Field{zap.String("type", ev.Type)}
			if ev.To != nil {
				fields = append(fields, zap.Stringer("to", ev.To))
			}
			if ev.Role != "" {
				fields = append(fields, zap.String("role", string(ev.Role)))
			}
			if ev.Outcome != "" {
				fields = append(fields, zap.String("outcome", string(ev.Outcome)))
			}
			if ev.Code != "" {
				fields = append(fields, zap.String("code", string(ev.Code)), zap.String("error", ev.Error))
			}
			log.Info("event", fields...)
		}
	}
}

func createLobby(ctx context.Context, server string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(server, "/")+"/lobbies", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create lobby: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create lobby: %s", resp.Status)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode lobby: %w", err)
	}
	return body.Code, nil
}

func names(s roster.Snapshot) []string {
	out := make([]string, 0, len(s))
	for _, e := range s {
		out = append(out, e.Name)
	}
	return out
}

func readyNames(s roster.Snapshot) []string {
	var out []string
	for _, e := range s {
		if e.Ready {
			out = append(out, e.Name)
		}
	}
	return out
}
