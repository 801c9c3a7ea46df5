// README: FCM push notifications for pool and verification events.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/messaging"

	"poolride/internal/events"
	"poolride/internal/modules/location"
	"poolride/internal/types"
)

// DriverSearchRadiusKm is how far from a READY pool's pickup centroid online
// drivers are alerted.
const DriverSearchRadiusKm = 3.0

type sender interface {
	SendEach(ctx context.Context, msgs []*messaging.Message) (*messaging.BatchResponse, error)
}

type TokenDirectory interface {
	DeviceTokens(ctx context.Context, uids []types.ID) (map[types.ID]string, error)
}

type DriverLocator interface {
	NearbyDrivers(ctx context.Context, at types.Point, radiusKm float64) ([]location.DriverLocation, error)
}

type FCMNotifier struct {
	client  sender
	tokens  TokenDirectory
	drivers DriverLocator
	log     *slog.Logger
}

func NewFCMNotifier(client *messaging.Client, tokens TokenDirectory, drivers DriverLocator, log *slog.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, tokens: tokens, drivers: drivers, log: log}
}

type notice struct {
	title string
	body  string
}

// noticeFor returns the user-facing text for an event, or false for events
// that are not pushed.
func noticeFor(e events.Event) (notice, bool) {
	switch e.Kind {
	case events.PoolReady:
		return notice{"Pool ready", "Your pool is full enough. Looking for a driver now."}, true
	case events.PoolReopened:
		return notice{"Pool waiting", "A rider left. Waiting for another student to join."}, true
	case events.DriverAssigned:
		return notice{"Driver assigned", fmt.Sprintf("%s (%s) is on the way.", e.Data["driver_name"], e.Data["vehicle_number"])}, true
	case events.PickupStarted:
		return notice{"Pickup started", "Your driver is heading to the first pickup."}, true
	case events.RideStarted:
		return notice{"Ride started", "Everyone is on board."}, true
	case events.RideCompleted:
		return notice{"Ride completed", "Thanks for pooling."}, true
	case events.PoolCancelled:
		return notice{"Pool cancelled", "Your pool ride was cancelled."}, true
	case events.PoolExpired:
		if e.Data["reason"] == "no_driver" {
			return notice{"No driver found", "No driver accepted your pool. Please book again."}, true
		}
		return notice{"No match found", "No one joined your pool. Book a solo ride instead."}, true
	case events.VerificationApproved:
		return notice{"Profile approved", "You can go online and accept rides."}, true
	case events.VerificationRejected:
		return notice{"Profile rejected", e.Data["reason"]}, true
	}
	return notice{}, false
}

func (n *FCMNotifier) Publish(ctx context.Context, evts []events.Event) error {
	var msgs []*messaging.Message
	for _, e := range evts {
		note, ok := noticeFor(e)
		if !ok {
			continue
		}
		recipients := e.Recipients
		if e.Kind == events.PoolReady {
			recipients = append(append([]types.ID(nil), recipients...), n.nearbyDrivers(ctx, e)...)
		}
		if len(recipients) == 0 {
			continue
		}
		tokens, err := n.tokens.DeviceTokens(ctx, recipients)
		if err != nil {
			return err
		}
		for _, uid := range recipients {
			if token, ok := tokens[uid]; ok {
				msgs = append(msgs, buildMessage(token, e, note))
			}
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	resp, err := n.client.SendEach(ctx, msgs)
	if err != nil {
		return fmt.Errorf("sending FCM batch: %w", err)
	}
	if resp.FailureCount > 0 {
		n.log.Warn("fcm partial failure", "sent", resp.SuccessCount, "failed", resp.FailureCount)
	}
	return nil
}

func (n *FCMNotifier) nearbyDrivers(ctx context.Context, e events.Event) []types.ID {
	if n.drivers == nil {
		return nil
	}
	lat, errLat := strconv.ParseFloat(e.Data["pickup_lat"], 64)
	lng, errLng := strconv.ParseFloat(e.Data["pickup_lng"], 64)
	if errLat != nil || errLng != nil {
		return nil
	}
	found, err := n.drivers.NearbyDrivers(ctx, types.Point{Lat: lat, Lng: lng}, DriverSearchRadiusKm)
	if err != nil {
		n.log.Warn("nearby driver lookup", "pool_id", e.SubjectID, "err", err)
		return nil
	}
	ids := make([]types.ID, len(found))
	for i, d := range found {
		ids[i] = d.DriverID
	}
	return ids
}

func buildMessage(token string, e events.Event, note notice) *messaging.Message {
	data := map[string]string{
		"type":         string(e.Kind),
		"subject_type": string(e.SubjectType),
		"subject_id":   string(e.SubjectID),
		"event_id":     e.ID,
	}
	for k, v := range e.Data {
		data[k] = v
	}
	return &messaging.Message{
		Token:        token,
		Data:         data,
		Notification: &messaging.Notification{Title: note.title, Body: note.body},
		Android:      &messaging.AndroidConfig{Priority: "high"},
	}
}
