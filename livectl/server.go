// Package livectl exposes a WebSocket control surface for live runs: it
// relays lifecycle events to connected clients and accepts breakpoint and
// run-control commands (arm, release, pause, inject, cancel) from them. It is
// the bridge a debugging frontend connects to while a run is suspended at a
// breakpoint.
package livectl

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/convoke-ai/convoke/breakpoint"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/runner"
)

// Command is a client request sent over the control socket.
type Command struct {
	Action   string `json:"action"` // status, arm, disarm, release, pause, resume, set_interval, inject, cancel
	Point    string `json:"point,omitempty"`
	RunID    string `json:"run_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Interval int    `json:"interval,omitempty"`
}

// Envelope is a server message: a relayed lifecycle event, a streaming
// fragment, a status snapshot, or a command acknowledgment.
type Envelope struct {
	Kind     string          `json:"kind"` // "event", "fragment", "status", "ack", "error"
	Event    *core.Event     `json:"event,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Fragment *model.Fragment `json:"fragment,omitempty"`
	Status   *Status         `json:"status,omitempty"`
	Reply    string          `json:"reply,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Status is the controller state snapshot returned for a "status" command.
type Status struct {
	Armed        []string `json:"armed"`
	Paused       bool     `json:"paused"`
	TurnInterval int      `json:"turn_interval"`
	ActiveRuns   []string `json:"active_runs"`
}

const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Options configures a Server.
type Options struct {
	Logger logging.Logger
}

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Server relays lifecycle events to WebSocket clients and applies their
// control commands to the orchestrator's breakpoint controller. Register it
// with the provider registry as an event observer and mount it on an HTTP
// mux.
//
// Event delivery is best effort: a client that cannot keep up has events
// dropped rather than stalling the run.
type Server struct {
	orch   *runner.Orchestrator
	logger logging.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

var _ runner.FragmentSink = (*Server)(nil)

// NewServer creates a control server bound to an orchestrator.
func NewServer(orch *runner.Orchestrator, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		orch:    orch,
		logger:  opts.Logger,
		clients: make(map[*client]struct{}),
	}
}

// OnEvent relays a lifecycle event to every connected client. It never fails;
// slow clients lose events instead of blocking the run.
func (s *Server) OnEvent(ev core.Event) error {
	data, err := json.Marshal(Envelope{Kind: "event", Event: &ev})
	if err != nil {
		s.logger.Warn("event marshal failed", "type", string(ev.Type), "error", err)
		return nil
	}
	s.broadcast(data, string(ev.Type))
	return nil
}

// OnFragment relays a streaming fragment, fire and forget.
func (s *Server) OnFragment(runID string, f model.Fragment) {
	data, err := json.Marshal(Envelope{Kind: "fragment", RunID: runID, Fragment: &f})
	if err != nil {
		return
	}
	s.broadcast(data, "fragment")
}

func (s *Server) broadcast(data []byte, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn("client lagging, message dropped", "kind", kind)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP upgrades the request to a WebSocket control session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.CloseNow()
	}()

	ctx := r.Context()
	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)
}

func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case data := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.reply(c, Envelope{Kind: "error", Error: "malformed command"})
			continue
		}
		s.apply(c, cmd)
	}
}

func (s *Server) apply(c *client, cmd Command) {
	bp := s.orch.Breakpoints()

	switch cmd.Action {
	case "status":
		armed := bp.Armed()
		names := make([]string, len(armed))
		for i, p := range armed {
			names[i] = string(p)
		}
		s.reply(c, Envelope{Kind: "status", Status: &Status{
			Armed:        names,
			Paused:       bp.Paused(),
			TurnInterval: bp.TurnInterval(),
			ActiveRuns:   s.orch.ActiveRuns(),
		}})
		return
	case "arm":
		bp.Arm(breakpoint.Point(cmd.Point))
	case "disarm":
		bp.Disarm(breakpoint.Point(cmd.Point))
	case "release":
		bp.Release(breakpoint.Point(cmd.Point))
	case "pause":
		bp.Pause()
	case "resume":
		bp.Resume()
	case "set_interval":
		bp.SetTurnInterval(cmd.Interval)
	case "inject":
		if err := s.orch.Inject(cmd.RunID, cmd.Text); err != nil {
			s.reply(c, Envelope{Kind: "error", Error: err.Error()})
			return
		}
	case "cancel":
		if err := s.orch.Cancel(cmd.RunID); err != nil {
			s.reply(c, Envelope{Kind: "error", Error: err.Error()})
			return
		}
	default:
		s.reply(c, Envelope{Kind: "error", Error: "unknown action " + cmd.Action})
		return
	}

	s.reply(c, Envelope{Kind: "ack", Reply: cmd.Action})
	s.logger.Debug("control command applied", "action", cmd.Action, "point", cmd.Point, "run_id", cmd.RunID)
}

func (s *Server) reply(c *client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
