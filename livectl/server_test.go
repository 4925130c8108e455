package livectl

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/breakpoint"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/provider"
	"github.com/convoke-ai/convoke/runner"
)

func newTestServer(t *testing.T) (*Server, *runner.Orchestrator, *httptest.Server) {
	t.Helper()

	registry := provider.NewRegistry()
	orch := runner.New(registry)
	srv := NewServer(orch)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, orch, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, cmd Command) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestServerRelaysEvents(t *testing.T) {
	srv, _, ts := newTestServer(t)
	conn := dial(t, ts)

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, srv.OnEvent(core.NewEvent(core.EventInstruct, "run-1", "Agent", nil)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "event", env.Kind)
	require.NotNil(t, env.Event)
	assert.Equal(t, core.EventInstruct, env.Event.Type)
	assert.Equal(t, "run-1", env.Event.RunID)
}

func TestServerAppliesBreakpointCommands(t *testing.T) {
	srv, orch, ts := newTestServer(t)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	send(t, conn, Command{Action: "arm", Point: string(core.EventToolExecution)})
	env := readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Kind)
	assert.True(t, orch.Breakpoints().IsArmed(breakpoint.PointToolExecution))

	send(t, conn, Command{Action: "pause"})
	env = readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Kind)
	assert.True(t, orch.Breakpoints().Paused())

	send(t, conn, Command{Action: "resume"})
	env = readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Kind)
	assert.False(t, orch.Breakpoints().Paused())

	send(t, conn, Command{Action: "set_interval", Interval: 4})
	env = readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Kind)
	assert.Equal(t, 4, orch.Breakpoints().TurnInterval())

	send(t, conn, Command{Action: "disarm", Point: string(core.EventToolExecution)})
	env = readEnvelope(t, conn)
	assert.Equal(t, "ack", env.Kind)
	assert.False(t, orch.Breakpoints().IsArmed(breakpoint.PointToolExecution))
}

func TestServerReportsStatus(t *testing.T) {
	srv, orch, ts := newTestServer(t)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	bp := orch.Breakpoints()
	bp.Arm(breakpoint.PointStart)
	bp.Arm(breakpoint.PointToolExecution)
	bp.SetTurnInterval(2)

	send(t, conn, Command{Action: "status"})
	env := readEnvelope(t, conn)
	assert.Equal(t, "status", env.Kind)
	require.NotNil(t, env.Status)
	assert.Equal(t, []string{string(core.EventStart), string(core.EventToolExecution)}, env.Status.Armed)
	assert.False(t, env.Status.Paused)
	assert.Equal(t, 2, env.Status.TurnInterval)
	assert.Empty(t, env.Status.ActiveRuns)
}

func TestServerRejectsUnknownAction(t *testing.T) {
	srv, _, ts := newTestServer(t)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	send(t, conn, Command{Action: "explode"})
	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Kind)
	assert.Contains(t, env.Error, "unknown action")
}

func TestServerInjectUnknownRun(t *testing.T) {
	srv, _, ts := newTestServer(t)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	send(t, conn, Command{Action: "inject", RunID: "missing", Text: "hello"})
	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Kind)
}

func TestServerRelaysFragments(t *testing.T) {
	srv, _, ts := newTestServer(t)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	srv.OnFragment("run-1", model.Fragment{ContentDelta: "chunk"})

	env := readEnvelope(t, conn)
	assert.Equal(t, "fragment", env.Kind)
	assert.Equal(t, "run-1", env.RunID)
	require.NotNil(t, env.Fragment)
	assert.Equal(t, "chunk", env.Fragment.ContentDelta)
}

func TestServerDropsEventsWithoutClients(t *testing.T) {
	srv, _, _ := newTestServer(t)
	// No connected clients: relaying must not fail or block.
	assert.NoError(t, srv.OnEvent(core.NewEvent(core.EventStart, "run-1", "Agent", nil)))
	assert.Zero(t, srv.ClientCount())
}
