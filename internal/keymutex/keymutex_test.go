package keymutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLock_SerializesSameKey(t *testing.T) {
	m := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("job-1")
			counter++
			m.Unlock("job-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestLock_IndependentKeysDoNotBlock(t *testing.T) {
	m := New()

	m.Lock("job-1")
	done := make(chan struct{})
	go func() {
		m.Lock("job-2")
		m.Unlock("job-2")
		close(done)
	}()
	<-done // would deadlock if job-2 waited on job-1
	m.Unlock("job-1")
}

func TestUnlock_UnheldKeyPanics(t *testing.T) {
	m := New()
	assert.Panics(t, func() { m.Unlock("nope") })
}
