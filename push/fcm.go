package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/jgabriele321/remindd/logger"
)

// fcmMulticastLimit is the most tokens FCM accepts in one multicast request.
const fcmMulticastLimit = 500

// MessagingClient is the part of *messaging.Client the gateway uses.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// NewFirebaseMessaging initialises the Firebase Admin SDK and returns its messaging client.
func NewFirebaseMessaging(ctx context.Context, projectID, credentialsPath string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging: %w", err)
	}
	return client, nil
}

// FCMGateway sends through Firebase Cloud Messaging.
type FCMGateway struct {
	client     MessagingClient
	simplified bool
	name       string
}

// FCMOption configures an FCMGateway.
type FCMOption func(*FCMGateway)

// WithSimplifiedPayload sends only title, body and type with no platform overrides. Used for
// the fallback path when the full payload is rejected.
func WithSimplifiedPayload() FCMOption {
	return func(g *FCMGateway) {
		g.simplified = true
		g.name = "fcm-simplified"
	}
}

// NewFCMGateway wraps client.
func NewFCMGateway(client MessagingClient, opts ...FCMOption) *FCMGateway {
	g := &FCMGateway{client: client, name: "fcm"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SendToOne implements Gateway.SendToOne
func (g *FCMGateway) SendToOne(ctx context.Context, address string, p Payload) error {
	msg := g.message(p)
	msg.Token = address
	id, err := g.client.Send(ctx, msg)
	if err != nil {
		return &SendError{Kind: classifyFCM(ctx, err), Address: address, Err: err}
	}
	logger.GetDispatchLogger().WithFields(map[string]interface{}{
		"gateway":   g.name,
		"messageId": id,
		"type":      p.Type(),
	}).Debug("fcm message sent")
	return nil
}

// SendMulticast implements Gateway.SendMulticast. Tokens are sent in chunks of 500. A chunk
// whose call fails counts all its tokens as failed while the other chunks keep their
// reported counts; the call only errors when every chunk failed.
func (g *FCMGateway) SendMulticast(ctx context.Context, addresses []string, p Payload) (MulticastResult, error) {
	var (
		result       MulticastResult
		lastErr      error
		chunks       int
		failedChunks int
	)
	base := g.message(p)

	for start := 0; start < len(addresses); start += fcmMulticastLimit {
		end := start + fcmMulticastLimit
		if end > len(addresses) {
			end = len(addresses)
		}
		chunk := addresses[start:end]
		chunks++

		resp, err := g.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       chunk,
			Data:         base.Data,
			Notification: base.Notification,
			Android:      base.Android,
			APNS:         base.APNS,
		})
		if err != nil {
			failedChunks++
			lastErr = &SendError{Kind: classifyFCM(ctx, err), Address: "multicast", Err: err}
			part := MulticastResult{FailureCount: len(chunk)}
			for _, addr := range chunk {
				part.Responses = append(part.Responses, AddressResult{Address: addr, Err: lastErr})
			}
			result.merge(part)
			logger.GetDispatchLogger().WithError(err).WithFields(map[string]interface{}{
				"gateway": g.name,
				"offset":  start,
				"tokens":  len(chunk),
			}).Warn("fcm multicast chunk failed")
			continue
		}

		part := MulticastResult{
			SuccessCount: resp.SuccessCount,
			FailureCount: resp.FailureCount,
		}
		for i, r := range resp.Responses {
			if i >= len(chunk) {
				break
			}
			ar := AddressResult{Address: chunk[i]}
			if !r.Success {
				ar.Err = &SendError{Kind: classifyFCM(ctx, r.Error), Address: chunk[i], Err: r.Error}
			}
			part.Responses = append(part.Responses, ar)
		}
		result.merge(part)
	}
	if chunks > 0 && failedChunks == chunks {
		return MulticastResult{}, lastErr
	}
	return result, nil
}

func (g *FCMGateway) message(p Payload) *messaging.Message {
	if g.simplified {
		p = p.Simplified()
	}
	msg := &messaging.Message{
		Notification: &messaging.Notification{
			Title: p.Notification.Title,
			Body:  p.Notification.Body,
		},
		Data: p.Data,
	}
	if g.simplified {
		return msg
	}

	priority := p.DeliveryHints.PlatformPriority
	if priority == "" {
		priority = "high"
	}
	msg.Android = &messaging.AndroidConfig{
		Priority: priority,
		Notification: &messaging.AndroidNotification{
			Sound: p.DeliveryHints.Sound,
		},
	}
	aps := &messaging.Aps{Sound: p.DeliveryHints.Sound}
	if p.DeliveryHints.Badge > 0 {
		badge := p.DeliveryHints.Badge
		aps.Badge = &badge
	}
	apnsPriority := "10"
	if priority != "high" {
		apnsPriority = "5"
	}
	msg.APNS = &messaging.APNSConfig{
		Headers: map[string]string{"apns-priority": apnsPriority},
		Payload: &messaging.APNSPayload{Aps: aps},
	}
	return msg
}

func classifyFCM(ctx context.Context, err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil, errorutils.IsDeadlineExceeded(err):
		return FailureTimeout
	case messaging.IsUnregistered(err), errorutils.IsNotFound(err):
		return FailureInvalidAddress
	case errorutils.IsInvalidArgument(err):
		// FCM reports malformed tokens as INVALID_ARGUMENT
		if strings.Contains(strings.ToLower(err.Error()), "token") {
			return FailureInvalidAddress
		}
		return FailureRejected
	case messaging.IsSenderIDMismatch(err), messaging.IsThirdPartyAuthError(err),
		messaging.IsQuotaExceeded(err), errorutils.IsPermissionDenied(err),
		errorutils.IsUnauthenticated(err):
		return FailureRejected
	}
	return FailureUnreachable
}
