package hass

import "context"

// NotifyService sends messages through one Home Assistant notify service,
// e.g. notify/mail_page.
type NotifyService struct {
	client  *Client
	service string
}

// Notifier returns a NotifyService bound to notify/<service>.
func (c *Client) Notifier(service string) *NotifyService {
	return &NotifyService{client: c, service: service}
}

// Send delivers title and message to target.
func (n *NotifyService) Send(ctx context.Context, target, title, message string) error {
	return n.client.CallService(ctx, "notify", n.service, map[string]any{
		"target":  target,
		"title":   title,
		"message": message,
	})
}
