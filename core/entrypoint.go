package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"reflect"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/srmesh/perf"
	"github.com/encodeous/srmesh/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Options configure how a node is hosted. The zero value runs on the wall clock with inert radio collaborators.
type Options struct {
	Deps
	// Context bounds the lifetime of the node, defaults to context.Background
	Context   context.Context
	LogLevel  slog.Level
	LogOutput io.Writer
	// ManualTick leaves Tick to the caller instead of a RepeatTask, the simulator steps nodes this way
	ManualTick bool
}

// NewLogger builds the node logger: a console handler prefixed with the node id, plus the log file when configured
func NewLogger(ncfg state.NodeCfg, level slog.Level, out io.Writer) (*slog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(out, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: ncfg.Id.String(),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Node is an initialized node whose dispatch loop has not necessarily started
type Node struct {
	*state.State
	dispatch chan func(*state.State) error
}

func NewNode(ncfg state.NodeCfg, opts Options) (*Node, error) {
	state.ExpandNodeConfig(&ncfg)
	if err := state.NodeConfigValidator(&ncfg); err != nil {
		return nil, err
	}
	base := opts.Context
	if base == nil {
		base = context.Background()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Log
	if logger == nil {
		var err error
		logger, err = NewLogger(ncfg, opts.LogLevel, opts.LogOutput)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancelCause(base)
	dispatch := make(chan func(env *state.State) error, state.DispatchQueueLen)
	s := &state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			NodeCfg:         ncfg,
			Log:             logger,
			Clock:           clk,
		},
	}

	s.Log.Debug("init modules")
	if err := initModules(s, opts); err != nil {
		cancel(err)
		return nil, err
	}
	s.Log.Debug("init modules complete", "mode", ncfg.Routing.Mode, "role", ncfg.Role)
	return &Node{State: s, dispatch: dispatch}, nil
}

// Run blocks on the dispatch loop until the node context ends
func (n *Node) Run() error {
	return MainLoop(n.State, n.dispatch)
}

// Coordinator of the node, only to be used from dispatched functions
func (n *Node) Coordinator() *Coordinator {
	return Get[*Router](n.State).Coordinator
}

func initModules(s *state.State, opts Options) error {
	var modules []state.NyModule
	modules = append(modules, &Notifier{})
	modules = append(modules, &Router{opts: opts})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return fmt.Errorf("init %T: %w", module, err)
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > state.SlowDispatchAlert {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Debug("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Debug("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Debug("stopped")
}

// ServeDebug exposes expvar, the metric dashboards and prometheus on addr until ctx ends
func ServeDebug(ctx context.Context, addr string, log *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: http.DefaultServeMux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("debug server stopped", "error", err)
		}
	}()
}

// Router hosts the Coordinator of a node as a module
type Router struct {
	*Coordinator
	opts Options
}

func (r *Router) Init(s *state.State) error {
	deps := r.opts.Deps
	if deps.Events == nil {
		deps.Events = Get[*Notifier](s).Broadcaster
	}
	if deps.Clock == nil {
		deps.Clock = s.Clock
	}
	if deps.Log == nil {
		deps.Log = s.Log
	}
	r.Coordinator = NewCoordinator(s.NodeCfg, deps)
	if !r.opts.ManualTick {
		s.RepeatTask(routerTick, state.TickInterval)
	}
	return nil
}

func (r *Router) Cleanup(s *state.State) error {
	if r.Coordinator != nil {
		r.Close()
	}
	return nil
}

func routerTick(s *state.State) error {
	Get[*Router](s).Tick()
	return nil
}
