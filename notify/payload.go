package notify

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/reminder"
	timecalc "github.com/jgabriele321/remindd/time"
)

const chatPreviewLength = 100

// ReminderPayload builds the notification for a fired reminder. Alerts use the alert type;
// the reminder's context is copied into data for deep-linking.
func ReminderPayload(r *reminder.Reminder, loc *time.Location) push.Payload {
	t := push.TypeReminder
	if r.Kind == reminder.KindAlert {
		t = push.TypeAlert
	}

	body := r.Note
	if body == "" {
		due := r.EffectiveTriggerAt()
		if r.DueAt != nil {
			due = *r.DueAt
		}
		body = "Due " + timecalc.FormatDue(due, loc)
	}

	p := push.NewPayload(t, r.Title, body, r.Context)
	p.Data["reminderId"] = r.ID
	return p
}

// ChatPayload builds the notification for a new chat message. Long messages are cut to a
// preview.
func ChatPayload(conversationID, senderID, senderName, text string) push.Payload {
	if utf8.RuneCountInString(text) > chatPreviewLength {
		runes := []rune(text)
		text = string(runes[:chatPreviewLength-1]) + "…"
	}
	title := "New message"
	if senderName != "" {
		title = fmt.Sprintf("New message from %s", senderName)
	}
	return push.NewPayload(push.TypeChat, title, text, map[string]string{
		"conversationId": conversationID,
		"senderId":       senderID,
	})
}
