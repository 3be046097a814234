package notify

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/reminder"
)

func TestReminderPayload(t *testing.T) {
	due := time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		r        *reminder.Reminder
		wantType push.PayloadType
		wantBody string
	}{
		{
			name:     "note is the body",
			r:        &reminder.Reminder{ID: "r1", Kind: reminder.KindReminder, Title: "Site visit", Note: "Bring the keys", TriggerAt: due},
			wantType: push.TypeReminder,
			wantBody: "Bring the keys",
		},
		{
			name:     "due time when note is empty",
			r:        &reminder.Reminder{ID: "r2", Kind: reminder.KindReminder, Title: "Site visit", TriggerAt: due},
			wantType: push.TypeReminder,
			wantBody: "Due Mon, Jan 5 at 9:30 AM",
		},
		{
			name:     "alert kind",
			r:        &reminder.Reminder{ID: "r3", Kind: reminder.KindAlert, Title: "New lead", Note: "Assigned", TriggerAt: due},
			wantType: push.TypeAlert,
			wantBody: "Assigned",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ReminderPayload(tt.r, time.UTC)
			assert.Equal(t, tt.wantType, p.Type())
			assert.Equal(t, tt.wantBody, p.Notification.Body)
			assert.Equal(t, tt.r.ID, p.Data["reminderId"])
		})
	}
}

func TestChatPayloadTruncatesPreview(t *testing.T) {
	p := ChatPayload("conv-1", "cust-1", "", strings.Repeat("ä", 150))

	assert.Equal(t, "New message", p.Notification.Title)
	assert.Equal(t, chatPreviewLength, utf8.RuneCountInString(p.Notification.Body))
	assert.Equal(t, "conv-1", p.Data["conversationId"])
	assert.Equal(t, push.TypeChat, p.Type())
}
