package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberManager_AddAndRemove(t *testing.T) {
	sm := NewSubscriberManager(5 * time.Minute)
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:12345")
	require.NoError(t, err)

	sm.Add("screen-1", "Rob", addr)
	assert.Equal(t, 1, sm.Count())

	// re-subscribing moves the renderer to another character
	sm.Add("screen-1", "SuperHumanoid", addr)
	assert.Equal(t, 1, sm.Count())
	assert.Empty(t, sm.ForCharacter("Rob"))
	assert.Len(t, sm.ForCharacter("SuperHumanoid"), 1)

	assert.True(t, sm.Remove("screen-1"))
	assert.False(t, sm.Remove("screen-1"))
	assert.Equal(t, 0, sm.Count())
}

func TestSubscriberManager_ForCharacter(t *testing.T) {
	sm := NewSubscriberManager(5 * time.Minute)
	addr1, _ := net.ResolveUDPAddr("udp", "127.0.0.1:12345")
	addr2, _ := net.ResolveUDPAddr("udp", "127.0.0.1:12346")
	addr3, _ := net.ResolveUDPAddr("udp", "127.0.0.1:12347")

	sm.Add("screen-1", "Rob", addr1)
	sm.Add("screen-2", "Rob", addr2)
	sm.Add("screen-3", "SuperHumanoid", addr3)

	subs := sm.ForCharacter("Rob")
	require.Len(t, subs, 2)
	ids := []string{subs[0].RendererID, subs[1].RendererID}
	assert.ElementsMatch(t, []string{"screen-1", "screen-2"}, ids)

	// routing keys are case sensitive
	assert.Empty(t, sm.ForCharacter("rob"))
}

func TestSubscriberManager_CleanupInactive(t *testing.T) {
	sm := NewSubscriberManager(50 * time.Millisecond)
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:12345")

	sm.Add("stale", "Rob", addr)
	sm.Add("fresh", "Rob", addr)
	time.Sleep(80 * time.Millisecond)
	assert.True(t, sm.Touch("fresh"))
	assert.False(t, sm.Touch("unknown"))

	assert.Equal(t, 1, sm.CleanupInactive())
	subs := sm.ForCharacter("Rob")
	require.Len(t, subs, 1)
	assert.Equal(t, "fresh", subs[0].RendererID)
}

func TestSubscriberManager_CleanupRoutineStops(t *testing.T) {
	sm := NewSubscriberManager(10 * time.Millisecond)
	addr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:12345")
	sm.Add("screen-1", "Rob", addr)

	done := make(chan struct{})
	removed := make(chan int, 1)
	exited := make(chan struct{})
	go func() {
		sm.StartCleanupRoutine(5*time.Millisecond, done, func(n int) {
			select {
			case removed <- n:
			default:
			}
		})
		close(exited)
	}()

	select {
	case n := <-removed:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup never ran")
	}

	close(done)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup routine did not stop")
	}
}
