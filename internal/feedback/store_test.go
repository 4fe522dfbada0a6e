package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Get("m1")
	assert.False(t, ok)

	reasons := []Reason{WrongCitation}
	s.Set("m1", State{Kind: Negative, Reasons: reasons})
	reasons[0] = Violent

	got, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, []Reason{WrongCitation}, got.Reasons, "store keeps its own copy")

	got.Reasons[0] = Sexual
	again, _ := s.Get("m1")
	assert.Equal(t, WrongCitation, again.Reasons[0])
}

func TestMemoryStore_Subscribe(t *testing.T) {
	s := NewMemoryStore()

	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })

	s.Set("m1", State{Kind: Positive})
	s.Set("m2", State{Kind: Neutral})
	unsubscribe()
	s.Set("m1", State{Kind: Neutral})

	require.Len(t, events, 2)
	assert.Equal(t, "m1", events[0].MessageID)
	assert.Equal(t, Positive, events[0].State.Kind)
	assert.Equal(t, "m2", events[1].MessageID)
}
