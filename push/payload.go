// Package push defines the notification payload and the gateways that deliver it to
// mobile devices.
package push

// PayloadType lets the receiving app tell notification sources apart.
type PayloadType string

const (
	TypeReminder     PayloadType = "reminder"
	TypeAlert        PayloadType = "alert"
	TypeChat         PayloadType = "chat"
	TypeAnnouncement PayloadType = "system_announcement"
)

// Notification is the user-visible part.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// DeliveryHints tune how the device presents the notification.
type DeliveryHints struct {
	PlatformPriority string `json:"platformPriority"` // "high" or "normal"
	Sound            string `json:"sound"`
	Badge            int    `json:"badge"`
}

// Payload is the one shape every notification source produces.
type Payload struct {
	Notification  Notification      `json:"notification"`
	Data          map[string]string `json:"data"`
	DeliveryHints DeliveryHints     `json:"deliveryHints"`
}

// NewPayload builds a payload with the type discriminator and the caller's context copied
// into Data. A "type" key in context is overwritten.
func NewPayload(t PayloadType, title, body string, context map[string]string) Payload {
	data := make(map[string]string, len(context)+1)
	for k, v := range context {
		data[k] = v
	}
	data["type"] = string(t)
	return Payload{
		Notification: Notification{Title: title, Body: body},
		Data:         data,
		DeliveryHints: DeliveryHints{
			PlatformPriority: "high",
			Sound:            "default",
			Badge:            1,
		},
	}
}

// Type returns the discriminator stored in Data.
func (p Payload) Type() PayloadType {
	return PayloadType(p.Data["type"])
}

// Simplified strips the payload down to title, body and type, for fallback sends through
// providers or devices that reject the full payload.
func (p Payload) Simplified() Payload {
	return Payload{
		Notification: p.Notification,
		Data:         map[string]string{"type": p.Data["type"]},
		DeliveryHints: DeliveryHints{
			PlatformPriority: "normal",
			Sound:            "default",
		},
	}
}
