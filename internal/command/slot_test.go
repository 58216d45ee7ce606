package command

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotLastWriteWins(t *testing.T) {
	var s Slot
	assert.Equal(t, None, s.Peek())

	s.Set(Left)
	s.Set(Right)
	assert.Equal(t, Right, s.Peek())
	assert.Equal(t, Right, s.Take())
	assert.Equal(t, None, s.Peek())
	assert.Equal(t, None, s.Take())
}

func TestSlotConcurrentTakeNeverDuplicates(t *testing.T) {
	var s Slot
	const writes = 1000

	var taken []Command
	var mu sync.Mutex
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if c := s.Take(); c != None {
				mu.Lock()
				taken = append(taken, c)
				mu.Unlock()
			}
		}
	}()

	for i := 0; i < writes; i++ {
		s.Set(Left)
	}
	close(done)
	wg.Wait()
	if c := s.Take(); c != None {
		taken = append(taken, c)
	}

	// Overwrites may coalesce, but nothing is taken more often than it was set.
	assert.LessOrEqual(t, len(taken), writes)
	assert.NotEmpty(t, taken)
	for _, c := range taken {
		assert.Equal(t, Left, c)
	}
}

func TestCommandString(t *testing.T) {
	tests := map[Command]string{
		None:        "none",
		Left:        "left",
		Right:       "right",
		Forward:     "forward",
		Command(42): "command(42)",
	}
	for c, want := range tests {
		assert.Equal(t, want, c.String())
	}
}
