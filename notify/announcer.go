package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jgabriele321/remindd/logger"
	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/recipient"
)

// ErrInvalidAnnouncement is returned when an announcement has no title.
var ErrInvalidAnnouncement = errors.New("invalid announcement")

// Announcement is a one-shot message to every matching recipient.
type Announcement struct {
	Title  string
	Body   string
	Filter recipient.Filter
	Data   map[string]string
}

// AnnouncementResult summarises one announcement. Counts are per address as reported by the
// gateway; recipients without an address only count towards TotalRecipients.
type AnnouncementResult struct {
	SentCount       int `json:"sentCount"`
	FailedCount     int `json:"failedCount"`
	TotalRecipients int `json:"totalRecipients"`
}

// AnnouncerOption configures an Announcer.
type AnnouncerOption func(*Announcer)

// WithAnnouncerMetrics records results to m.
func WithAnnouncerMetrics(m *Metrics) AnnouncerOption {
	return func(a *Announcer) { a.metrics = m }
}

// Announcer fans one payload out in a single multicast.
type Announcer struct {
	directory recipient.Directory
	gateway   push.Gateway
	metrics   *Metrics
	log       *logrus.Logger
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(directory recipient.Directory, gateway push.Gateway, opts ...AnnouncerOption) *Announcer {
	a := &Announcer{
		directory: directory,
		gateway:   gateway,
		log:       logger.GetDispatchLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Announce sends the announcement. Failed addresses are reported, never retried. If the
// multicast call itself fails every recipient counts as failed and the error is only logged.
func (a *Announcer) Announce(ctx context.Context, ann Announcement) (AnnouncementResult, error) {
	if strings.TrimSpace(ann.Title) == "" {
		return AnnouncementResult{}, fmt.Errorf("%w: title is required", ErrInvalidAnnouncement)
	}

	recipients, err := a.directory.Recipients(ctx, ann.Filter)
	if err != nil {
		return AnnouncementResult{}, fmt.Errorf("list recipients: %w", err)
	}

	result := AnnouncementResult{TotalRecipients: len(recipients)}
	seen := make(map[string]bool)
	var addresses []string
	for _, r := range recipients {
		for _, addr := range r.Addresses {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}

	log := a.log.WithFields(logrus.Fields{
		"title":           ann.Title,
		"role":            ann.Filter.Role,
		"totalRecipients": result.TotalRecipients,
		"addresses":       len(addresses),
	})
	if len(addresses) == 0 {
		log.Info("announcement has no live addresses, nothing sent")
		return result, nil
	}

	payload := push.NewPayload(push.TypeAnnouncement, ann.Title, ann.Body, ann.Data)
	res, err := a.gateway.SendMulticast(ctx, addresses, payload)
	if err != nil {
		result.FailedCount = result.TotalRecipients
		a.metrics.recordAnnouncement(result)
		log.WithError(err).Error("announcement multicast failed, counting every recipient as failed")
		return result, nil
	}

	result.SentCount = res.SuccessCount
	result.FailedCount = res.FailureCount
	a.metrics.recordAnnouncement(result)
	log.WithFields(logrus.Fields{
		"sent":   result.SentCount,
		"failed": result.FailedCount,
	}).Info("announcement sent")
	return result, nil
}
