package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"str-manager/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// ErrSubscriptionGone is returned when the push service reports that a
// subscription has expired. The subscription is deleted.
var ErrSubscriptionGone = errors.New("push subscription expired")

// WebPushNotifier delivers alerts to operator browsers. The target of a
// Send is the endpoint of a stored PushSubscription.
type WebPushNotifier struct {
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWebPushNotifier creates a notifier reading subscriptions from db.
func NewWebPushNotifier(db *gorm.DB, webpushOptions *webpush.Options) *WebPushNotifier {
	return &WebPushNotifier{
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
	}
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send pushes title and message to the subscription registered at target.
func (n *WebPushNotifier) Send(ctx context.Context, target, title, message string) error {
	var sub model.PushSubscription
	if err := n.db.WithContext(ctx).First(&sub, "endpoint = ?", target).Error; err != nil {
		return fmt.Errorf("failed to look up push subscription %s: %w", target, err)
	}

	payload, err := json.Marshal(pushPayload{Title: title, Body: message})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := n.sender.Send(payload, wpSub, n.webpush)
	if err != nil {
		return fmt.Errorf("failed to send push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := n.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service returned status %d for %s", resp.StatusCode, sub.Endpoint)
	}
	return nil
}
