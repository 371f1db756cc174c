package rcu

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stats struct{ A, B int }

func TestLoadBeforePublish(t *testing.T) {
	var v Value[stats]
	assert.Equal(t, stats{}, v.Load())
	assert.Zero(t, v.Epoch())
}

func TestReadersSeeWholeCopies(t *testing.T) {
	var v Value[stats]
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s := v.Load()
				assert.Equal(t, s.A, s.B)
			}
		}()
	}
	for i := 1; i <= 1000; i++ {
		v.Publish(stats{A: i, B: i})
	}
	wg.Wait()
	assert.Equal(t, uint64(1000), v.Epoch())
	assert.Equal(t, stats{1000, 1000}, v.Load())
}
