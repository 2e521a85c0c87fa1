package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusSkipsOwnOrigin(t *testing.T) {
	bus := NewBus()
	a, b := bus.Node(), bus.Node()

	var gotA, gotB []string
	unsubA, err := a.Subscribe("p", func(text string) { gotA = append(gotA, text) })
	require.NoError(t, err)
	_, err = b.Subscribe("p", func(text string) { gotB = append(gotB, text) })
	require.NoError(t, err)
	_, err = b.Subscribe("other", func(text string) { t.Fatal("wrong path") })
	require.NoError(t, err)

	a.Publish("p", "one")
	b.Publish("p", "two")
	require.Equal(t, []string{"two"}, gotA)
	require.Equal(t, []string{"one"}, gotB)

	unsubA()
	b.Publish("p", "three")
	require.Equal(t, []string{"two"}, gotA)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := encode("origin-1", "some\ntext")
	require.NoError(t, err)
	e, err := decode(raw)
	require.NoError(t, err)
	require.Equal(t, envelope{Origin: "origin-1", Text: "some\ntext"}, e)

	_, err = decode([]byte("not json"))
	require.Error(t, err)
}
