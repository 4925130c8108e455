package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
)

type recordingObserver struct {
	name string
	seen []core.EventType
	sink *[]string
	fail error
}

func (o *recordingObserver) OnEvent(ev core.Event) error {
	o.seen = append(o.seen, ev.Type)
	if o.sink != nil {
		*o.sink = append(*o.sink, o.name)
	}
	return o.fail
}

type panickyObserver struct{}

func (panickyObserver) OnEvent(core.Event) error { panic("boom") }

func TestRegisterResolvesCapabilities(t *testing.T) {
	r := NewRegistry()

	// Completion-capable provider
	mock := model.NewMockModel("mock-a")
	require.NoError(t, r.Register(mock))

	// Observer-only provider
	require.NoError(t, r.Register(&recordingObserver{name: "obs"}, WithName("obs")))

	// Neither capability is a configuration error
	err := r.Register(struct{}{})
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recordingObserver{}, WithName("same")))

	err := r.Register(&recordingObserver{}, WithName("same"))
	assert.Error(t, err)
}

func TestFirstCompleterBecomesPrimary(t *testing.T) {
	r := NewRegistry()
	first := model.NewMockModel("first")
	second := model.NewMockModel("second")
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	got, err := r.CompletionProvider()
	require.NoError(t, err)
	assert.Equal(t, "first", got.Info().Name)
}

func TestExplicitPrimaryOverridesAuto(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(model.NewMockModel("auto")))
	require.NoError(t, r.Register(model.NewMockModel("chosen"), WithPrimary()))

	got, err := r.CompletionProvider()
	require.NoError(t, err)
	assert.Equal(t, "chosen", got.Info().Name)

	// A second explicit primary is a configuration error.
	err = r.Register(model.NewMockModel("again"), WithPrimary())
	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCompletionProviderWithoutPrimary(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recordingObserver{}, WithName("obs")))

	_, err := r.CompletionProvider()
	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "no primary completion provider")
}

func TestPublishPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	require.NoError(t, r.Register(&recordingObserver{name: "low", sink: &order}, WithName("low"), WithPriority(1)))
	require.NoError(t, r.Register(&recordingObserver{name: "high", sink: &order}, WithName("high"), WithPriority(10)))
	require.NoError(t, r.Register(&recordingObserver{name: "mid", sink: &order}, WithName("mid"), WithPriority(5)))

	outcomes := r.Publish(core.NewEvent(core.EventStart, "run-1", "agent", nil))
	require.Len(t, outcomes, 3)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestPublishTieBreaksByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	require.NoError(t, r.Register(&recordingObserver{name: "a", sink: &order}, WithName("a"), WithPriority(3)))
	require.NoError(t, r.Register(&recordingObserver{name: "b", sink: &order}, WithName("b"), WithPriority(3)))

	r.Publish(core.NewEvent(core.EventInstruct, "run-1", "agent", nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestPublishIsolatesFailingObserver(t *testing.T) {
	r := NewRegistry()
	healthy := &recordingObserver{name: "healthy"}

	require.NoError(t, r.Register(&recordingObserver{name: "bad", fail: errors.New("observer down")}, WithName("bad"), WithPriority(10)))
	require.NoError(t, r.Register(healthy, WithName("healthy")))

	outcomes := r.Publish(core.NewEvent(core.EventStart, "run-1", "agent", nil))
	require.Len(t, outcomes, 2)

	var obsErr *core.ObserverError
	require.ErrorAs(t, outcomes[0].Err, &obsErr)
	assert.Equal(t, "bad", obsErr.Provider)

	// The failure did not stop delivery to the next observer.
	assert.NoError(t, outcomes[1].Err)
	assert.Len(t, healthy.seen, 1)
}

func TestPublishRecoversPanickingObserver(t *testing.T) {
	r := NewRegistry()
	healthy := &recordingObserver{name: "healthy"}

	require.NoError(t, r.Register(panickyObserver{}, WithName("panicky"), WithPriority(10)))
	require.NoError(t, r.Register(healthy, WithName("healthy")))

	outcomes := r.Publish(core.NewEvent(core.EventStart, "run-1", "agent", nil))
	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.Len(t, healthy.seen, 1)
}

func TestEventTypeFilter(t *testing.T) {
	r := NewRegistry()
	obs := &recordingObserver{name: "filtered"}
	require.NoError(t, r.Register(obs, WithName("filtered"), WithEventTypes(core.EventHandoff)))

	r.Publish(core.NewEvent(core.EventStart, "run-1", "agent", nil))
	r.Publish(core.NewEvent(core.EventHandoff, "run-1", "agent", nil))

	assert.Equal(t, []core.EventType{core.EventHandoff}, obs.seen)
}

func TestDeregisterClearsPrimary(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(model.NewMockModel("only")))

	require.NoError(t, r.Deregister("only"))

	_, err := r.CompletionProvider()
	assert.Error(t, err)

	assert.Error(t, r.Deregister("only"))
}
