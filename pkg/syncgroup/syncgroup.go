// Package syncgroup wraps sync.WaitGroup for launching a batch of long
// running goroutines: register functions with Add, start them together with
// Run, and Wait on all of them during shutdown. Add/Done bookkeeping is
// handled internally so a missing Done cannot hang the group.
package syncgroup

import (
	"sync"
)

type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add registers a function for the next Run. Calls made while a previous
// batch is still running are dropped.
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running > 0 {
		return
	}
	w.fns = append(w.fns, fn)
}

// Run starts every registered function in its own goroutine and clears the
// registration list. A second Run while the batch is still active is a no-op.
func (w *SyncGroup) Run() {
	w.mu.Lock()
	if w.running > 0 {
		w.mu.Unlock()
		return
	}
	fns := w.fns
	w.fns = nil
	w.running = len(fns)
	w.mu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(do func()) {
			defer func() {
				w.wg.Done()
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
			}()
			do()
		}(fn)
	}
}

// Wait blocks until every goroutine of the current batch has returned.
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
