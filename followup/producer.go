package followup

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jgabriele321/remindd/logger"
	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/reminder"
)

// Notifier delivers a one-off payload to a recipient.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, p push.Payload) (bool, error)
}

// Producer reacts to assignment and follow-up events.
type Producer struct {
	registry  *Registry
	reminders reminder.Service
	notifier  Notifier
	now       reminder.Clock
	log       *logrus.Entry
}

// NewProducer creates a producer.
func NewProducer(registry *Registry, reminders reminder.Service, notifier Notifier) *Producer {
	return &Producer{
		registry:  registry,
		reminders: reminders,
		notifier:  notifier,
		now:       time.Now,
		log:       logger.GetAppLogger().WithField("component", "followup"),
	}
}

// OnAssigned records the assignment and alerts the employee right away. The alert is
// best effort: a delivery problem is logged, not returned.
func (p *Producer) OnAssigned(ctx context.Context, a Assignment) (bool, error) {
	if err := a.validate(); err != nil {
		return false, err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = p.now().UTC()
	}
	p.registry.Put(a)

	title := "New lead assigned"
	if a.Priority == PriorityHigh {
		title = "New high-priority lead assigned"
	}
	body := "Enquiry " + a.EnquiryID
	if a.ClientName != "" {
		body = a.ClientName + " (enquiry " + a.EnquiryID + ")"
	}
	payload := push.NewPayload(push.TypeAlert, title, body, map[string]string{
		"enquiryId":    a.EnquiryID,
		"assignmentId": a.ID,
		"priority":     string(a.Priority),
	})

	delivered, err := p.notifier.Notify(ctx, a.EmployeeID, payload)
	log := p.log.WithFields(logrus.Fields{
		"assignmentId": a.ID,
		"employeeId":   a.EmployeeID,
		"delivered":    delivered,
	})
	if err != nil {
		log.WithError(err).Warn("assignment alert failed")
		return false, nil
	}
	log.Info("assignment alert sent")
	return delivered, nil
}

// OnFollowUp applies a follow-up to its assignment. An open case with a next follow-up
// time gets a reminder for the employee; closing the case completes the assignment. The
// created reminder is nil when none was scheduled.
func (p *Producer) OnFollowUp(ctx context.Context, f FollowUp) (*reminder.Reminder, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	a, err := p.registry.Get(f.AssignmentID)
	if err != nil {
		return nil, err
	}

	switch f.CaseStatus {
	case CaseClose, CaseNotInterested:
		if err := p.registry.SetStatus(a.ID, AssignmentCompleted); err != nil {
			return nil, err
		}
		p.log.WithFields(logrus.Fields{
			"assignmentId": a.ID,
			"caseStatus":   f.CaseStatus,
		}).Info("assignment closed by follow-up")
		return nil, nil
	}

	if a.Status == AssignmentPending {
		if err := p.registry.SetStatus(a.ID, AssignmentInProgress); err != nil {
			return nil, err
		}
	}
	if f.NextFollowUpAt == nil {
		return nil, nil
	}

	title := "Follow up on enquiry " + a.EnquiryID
	if a.ClientName != "" {
		title = "Follow up with " + a.ClientName
	}
	r := &reminder.Reminder{
		Kind:         reminder.KindReminder,
		OwnerID:      a.EmployeeID,
		CreatedBy:    a.AssignedBy,
		Title:        title,
		Note:         f.Note,
		TriggerAt:    *f.NextFollowUpAt,
		AssignmentID: a.ID,
		Context: map[string]string{
			"enquiryId":    a.EnquiryID,
			"assignmentId": a.ID,
			"followUpId":   f.ID,
		},
	}
	if err := p.reminders.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("schedule follow-up reminder: %w", err)
	}
	return r, nil
}
