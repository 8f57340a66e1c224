package feed

import (
	"context"
	"time"

	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

// ChangeFeed is a subscription to the deployment catalog's change stream.
// The returned channel closes when the underlying connection drops; the
// listener handles reconnection.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan types.ChangeEvent, error)
}

// Handler consumes one change event. Handlers must be idempotent per
// identity: the feed may replay an event after a reconnect.
type Handler interface {
	HandleChange(evt types.ChangeEvent)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(evt types.ChangeEvent)

func (f HandlerFunc) HandleChange(evt types.ChangeEvent) { f(evt) }

// Options tunes the listener's reconnect behavior.
type Options struct {
	// InitialBackoff is the delay before the first reconnect attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth of the reconnect delay.
	MaxBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Listener pulls events from a ChangeFeed and fans them out to handlers.
// It reconnects with exponential backoff when the feed drops, resetting the
// delay after a successful subscribe. A missed event is acceptable: the
// system degrades to serving the last known version until the feed heals.
type Listener struct {
	feed     ChangeFeed
	handlers []Handler
	logger   logging.Logger
	opts     Options
}

func NewListener(feed ChangeFeed, logger logging.Logger, opts Options) *Listener {
	return &Listener{feed: feed, logger: logger, opts: opts}
}

// AddHandler registers a handler. Not safe to call after Run has started.
func (l *Listener) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Run blocks, consuming the feed until ctx is done.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		events, err := l.feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Errorf("Change feed subscribe failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = l.nextBackoff(backoff)
			continue
		}

		l.logger.Printf("Subscribed to deployment change feed")
		backoff = l.opts.InitialBackoff

		if !l.consume(ctx, events) {
			return
		}
		l.logger.Errorf("Change feed connection lost, resubscribing")
	}
}

// consume drains the event channel. Returns false when ctx ended, true when
// the channel closed and the caller should resubscribe.
func (l *Listener) consume(ctx context.Context, events <-chan types.ChangeEvent) bool {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return true
			}
			l.dispatch(evt)
		case <-ctx.Done():
			return false
		}
	}
}

func (l *Listener) dispatch(evt types.ChangeEvent) {
	l.logger.Debugf("Change event: %s function=%s version=%s previous=%s",
		evt.Kind, evt.FunctionID, evt.VersionID, evt.PreviousVersionID)
	for _, h := range l.handlers {
		h.HandleChange(evt)
	}
}

func (l *Listener) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if max := l.opts.MaxBackoff; max > 0 && next > max {
		next = max
	}
	return next
}
