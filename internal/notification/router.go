package notification

import (
	"context"
	"fmt"
	"sort"
)

// Notifier sends one message to one target address.
type Notifier interface {
	Send(ctx context.Context, target, title, message string) error
}

// Router maps channel names ("hass", "webpush") to notifiers.
type Router struct {
	channels map[string]Notifier
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{channels: make(map[string]Notifier)}
}

// Register binds a channel name to a notifier, replacing any previous one.
func (r *Router) Register(channel string, n Notifier) {
	r.channels[channel] = n
}

// Lookup returns the notifier for channel.
func (r *Router) Lookup(channel string) (Notifier, error) {
	n, ok := r.channels[channel]
	if !ok {
		return nil, fmt.Errorf("unknown notification channel %q (registered: %v)", channel, r.names())
	}
	return n, nil
}

func (r *Router) names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
