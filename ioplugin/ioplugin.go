// Package ioplugin attaches a socket.io server to an app.Runtime.
//
// The plugin starts on the runtime's "start" hook while active. Other
// modules shape the server through hooks:
//
//   - io.config receives the *Config before the server is built
//   - io.init receives the *Plugin once the server exists
//   - io.connection receives each connecting *socket.Socket
//   - io.disconnecting receives a socket that is about to leave
//
// Connected clients live in Clients, a clean-mode registry that drops
// sockets which are no longer connected.
package ioplugin

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"

	"github.com/dcshock/hookpipe/app"
	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
	"github.com/dcshock/hookpipe/plugin"
	"github.com/dcshock/hookpipe/priority"
	"github.com/dcshock/hookpipe/registry"
)

// Plugin identity and hook names.
const (
	ID      = "io"
	Version = "1.0.0"

	ConfigHook        = "io.config"
	InitHook          = "io.init"
	ConnectionHook    = "io.connection"
	DisconnectingHook = "io.disconnecting"

	DefaultPath = "/hookpipe.io"
)

// Config is passed through io.config before the server is built.
type Config struct {
	Path        string
	CorsOrigin  string
	ServeClient bool
}

// Client is a connected socket.
type Client struct {
	ID     string
	Socket *socket.Socket
}

// Alive implements registry.Liveness.
func (c *Client) Alive() bool { return c.Socket != nil && c.Socket.Connected() }

// Plugin is the socket.io feature module. It implements app.Module and
// http.Handler.
type Plugin struct {
	Clients *registry.Registry[*Client]

	mu      sync.RWMutex
	rt      *app.Runtime
	server  *socket.Server
	handler http.Handler
	config  Config
}

// New returns an unstarted plugin.
func New() *Plugin {
	return &Plugin{
		Clients: registry.New[*Client]("io-clients", registry.WithMode(registry.ModeClean)),
	}
}

// Descriptor implements app.Module.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		ID:          ID,
		Name:        "Socket.io Plugin",
		Description: "Socket.io server with live client tracking",
		Order:       100,
		Version:     plugin.Version{Plugin: Version, Runtime: ">=1.0.0"},
		BuiltIn:     true,
	}
}

// Init implements app.Module. It registers the start, shutdown and
// connection-tracking hooks.
func (p *Plugin) Init(ctx context.Context, rt *app.Runtime) error {
	p.mu.Lock()
	p.rt = rt
	p.mu.Unlock()

	rt.Hooks.Register(app.StartHook, rt.Plugins.Gate(ID, p.start), hook.WithID("io.start"))
	rt.Hooks.Register(app.ShutdownHook, p.stop, hook.WithID("io.stop"))
	rt.Hooks.Register(InitHook, p.listen, hook.WithOrder(priority.Highest), hook.WithID("io.listen"))
	rt.Hooks.Register(ConnectionHook, p.track, hook.WithOrder(priority.Highest), hook.WithID("io.track"))
	return nil
}

func (p *Plugin) start(ctx context.Context, args ...interface{}) error {
	cfg := &Config{Path: DefaultPath, CorsOrigin: "*"}
	if err := p.rt.Hooks.Run(ctx, ConfigHook, cfg); err != nil {
		return fmt.Errorf("io config: %w", err)
	}

	opts := socket.DefaultServerOptions()
	opts.SetPath(cfg.Path)
	opts.SetServeClient(cfg.ServeClient)
	opts.SetCors(&types.Cors{Origin: cfg.CorsOrigin})

	server := socket.NewServer(nil, opts)
	p.mu.Lock()
	p.server = server
	p.handler = server.ServeHandler(opts)
	p.config = *cfg
	p.mu.Unlock()

	ctxlog.FromContext(ctx).Info("socket.io attached", "path", cfg.Path)
	return p.rt.Hooks.Run(ctx, InitHook, p)
}

// listen forwards server connections to io.connection. Connections outlive
// the start context, so the hooks run without its cancellation.
func (p *Plugin) listen(ctx context.Context, args ...interface{}) error {
	server := p.Server()
	if server == nil {
		return fmt.Errorf("io init: server not started")
	}
	base := context.WithoutCancel(ctx)
	server.On("connection", func(clients ...any) {
		if len(clients) == 0 {
			return
		}
		s, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		if err := p.rt.Hooks.Run(base, ConnectionHook, s); err != nil {
			ctxlog.FromContext(base).Error("io connection hook failed", "client", string(s.Id()), "error", err)
		}
	})
	return nil
}

func (p *Plugin) track(ctx context.Context, args ...interface{}) error {
	s, ok := pipeline.Arg[*socket.Socket](args)
	if !ok {
		return nil
	}
	id := string(s.Id())
	log := ctxlog.FromContext(ctx)
	log.Debug("io client connecting", "client", id)
	if err := p.Clients.Register(id, &Client{ID: id, Socket: s}); err != nil {
		return err
	}
	base := context.WithoutCancel(ctx)
	s.On("disconnecting", func(...any) {
		log.Debug("io client disconnecting", "client", id)
		if err := p.rt.Hooks.Run(base, DisconnectingHook, s); err != nil {
			log.Error("io disconnecting hook failed", "client", id, "error", err)
		}
		_ = p.Clients.Unregister(id)
	})
	return nil
}

func (p *Plugin) stop(ctx context.Context, args ...interface{}) error {
	p.mu.Lock()
	server := p.server
	p.server, p.handler = nil, nil
	p.mu.Unlock()
	if server != nil {
		server.Close(nil)
	}
	p.Clients.Clear()
	return nil
}

// Server returns the socket.io server, or nil before start.
func (p *Plugin) Server() *socket.Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.server
}

// Config returns the configuration the server was built with.
func (p *Plugin) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// ServeHTTP serves socket.io requests once the plugin has started and
// answers 503 before that.
func (p *Plugin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()
	if h == nil {
		http.Error(w, "socket.io not started", http.StatusServiceUnavailable)
		return
	}
	h.ServeHTTP(w, r)
}

var _ app.Module = (*Plugin)(nil)
