package job

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/target/taskmanager-api/internal/domain/model"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until the store signals that a job of kind may be available.
type Waiter interface {
	WaitForNotification(ctx context.Context, kind model.JobKind) error
}

// Notifier fans store notifications out to in-process subscribers.
type Notifier interface {
	// Subscribe returns a channel that receives a wake-up whenever a job of any
	// of kinds may be claimable. The returned func unsubscribes and closes it.
	Subscribe(kinds ...model.JobKind) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure DefaultNotifier.
type NotifierOptions struct {
	Waiter Waiter
	// WaitWindow bounds each wait; subscribers are woken when it lapses too,
	// so a missed notification costs at most one window.
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier runs one listener goroutine per kind with subscribers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[model.JobKind]map[chan struct{}]struct{}
	listeners map[model.JobKind]context.CancelFunc
}

var _ Notifier = (*DefaultNotifier)(nil)

// NewNotifier constructs a DefaultNotifier.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = 30 * time.Second
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[model.JobKind]map[chan struct{}]struct{}),
		listeners:  make(map[model.JobKind]context.CancelFunc),
	}, nil
}

// Subscribe registers one channel under every kind in kinds.
func (n *DefaultNotifier) Subscribe(kinds ...model.JobKind) (func(), <-chan struct{}) {
	kinds = slices.Compact(slices.Sorted(slices.Values(kinds)))
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, kind := range kinds {
		if _, ok := n.listeners[kind]; !ok {
			ctx, cancel := context.WithCancel(context.Background())
			n.listeners[kind] = cancel
			go n.listenLoop(ctx, kind)
		}
		if n.subs[kind] == nil {
			n.subs[kind] = make(map[chan struct{}]struct{})
		}
		n.subs[kind][ch] = struct{}{}
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			registered := false
			for _, kind := range kinds {
				subscribers := n.subs[kind]
				if _, ok := subscribers[ch]; !ok {
					continue
				}
				registered = true
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					n.stopListener(kind)
					delete(n.subs, kind)
				}
			}
			if registered {
				drainAndClose(ch)
			}
		})
	}
	return unsub, ch
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for kind, cancel := range n.listeners {
		cancel()
		delete(n.listeners, kind)
	}
	closed := make(map[chan struct{}]struct{})
	for kind, subscribers := range n.subs {
		for ch := range subscribers {
			if _, done := closed[ch]; !done {
				drainAndClose(ch)
				closed[ch] = struct{}{}
			}
		}
		delete(n.subs, kind)
	}
}

func (n *DefaultNotifier) stopListener(kind model.JobKind) {
	if cancel, ok := n.listeners[kind]; ok {
		cancel()
		delete(n.listeners, kind)
	}
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, kind model.JobKind) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, kind)
		cancel()

		n.broadcast(kind)

		if err != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(kind model.JobKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs[kind] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose empties the buffer before closing so receivers observe the
// close immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
