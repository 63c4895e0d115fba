package utils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexDisabledIsReentrant(t *testing.T) {
	m := OptionalRWMutex{}
	m.Lock()
	m.Lock()
	m.RLock()
	m.RUnlock()
	m.Unlock()
	m.Unlock()
}

func TestOptionalMutexEnabledSerializes(t *testing.T) {
	m := OptionalRWMutex{UseMutex: true}
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 5000, counter)
}
