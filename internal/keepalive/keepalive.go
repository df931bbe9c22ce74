// Package keepalive stops idle command servers.
package keepalive

import (
	"sync"
	"time"
)

// Keepalive keeps one sliding idle timer per repository. A repository that
// is not used within the timeout is evicted; one with commands in flight
// never is.
type Keepalive struct {
	mu          sync.Mutex
	timers      map[string]*time.Timer
	timerIDs    map[string]uint64
	nextTimerID uint64
	inFlight    map[string]int
	timeout     time.Duration
	evict       func(repo string)
}

// New creates a keepalive that calls evict for repositories idle longer
// than timeout. A non-positive timeout disables eviction.
func New(timeout time.Duration, evict func(repo string)) *Keepalive {
	return &Keepalive{
		timers:   make(map[string]*time.Timer),
		timerIDs: make(map[string]uint64),
		inFlight: make(map[string]int),
		timeout:  timeout,
		evict:    evict,
	}
}

// Do runs fn between Begin and End for repo.
func (k *Keepalive) Do(repo string, fn func() error) error {
	k.Begin(repo)
	defer k.End(repo)
	return fn()
}

// Begin marks the start of a command on repo. Any idle timer is canceled so
// a long-running command is never evicted.
func (k *Keepalive) Begin(repo string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopTimerLocked(repo)
	k.inFlight[repo]++
}

// End marks completion of a command on repo. The idle timer starts only
// after the final in-flight command completes.
func (k *Keepalive) End(repo string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := k.inFlight[repo]
	if n > 1 {
		k.inFlight[repo] = n - 1
		return
	}

	delete(k.inFlight, repo)
	k.startTimerLocked(repo)
}

// Forget drops repo's timer without evicting it, for repositories whose
// server is already gone.
func (k *Keepalive) Forget(repo string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopTimerLocked(repo)
	delete(k.inFlight, repo)
}

func (k *Keepalive) stopTimerLocked(repo string) {
	if t, ok := k.timers[repo]; ok {
		t.Stop()
		delete(k.timers, repo)
		delete(k.timerIDs, repo)
	}
}

func (k *Keepalive) startTimerLocked(repo string) {
	k.stopTimerLocked(repo)
	if k.timeout <= 0 {
		return
	}

	k.nextTimerID++
	timerID := k.nextTimerID
	k.timers[repo] = time.AfterFunc(k.timeout, func() {
		k.expire(repo, timerID)
	})
	k.timerIDs[repo] = timerID
}

// expire holds the lock while evicting so a Begin for the same repository
// waits until the old process is gone.
func (k *Keepalive) expire(repo string, timerID uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	currentID, ok := k.timerIDs[repo]
	if !ok || currentID != timerID || k.inFlight[repo] > 0 {
		return
	}

	delete(k.timers, repo)
	delete(k.timerIDs, repo)
	if k.evict != nil {
		k.evict(repo)
	}
}

// Stop cancels all timers.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, t := range k.timers {
		t.Stop()
	}
	k.timers = make(map[string]*time.Timer)
	k.timerIDs = make(map[string]uint64)
	k.inFlight = make(map[string]int)
}
