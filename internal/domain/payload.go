package domain

// Attachment colours derived from quality gate status.
const (
	ColorGood    = "good"
	ColorWarning = "warning"
	ColorDanger  = "danger"
)

// Field is one title/value pair inside a message attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Attachment groups condition fields under one status colour.
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Fields []Field `json:"fields"`
}

// Payload is the outbound chat message posted to the webhook.
// Params: channel, username, optional icon, summary text, and optional attachments.
// Returns: JSON body for incoming-webhook delivery.
type Payload struct {
	Channel     string       `json:"channel"`
	Username    string       `json:"username"`
	IconURL     string       `json:"icon_url,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// StatusColor maps overall gate status to attachment colour.
// Params: gate status.
// Returns: colour name or empty string for unknown status.
func StatusColor(status GateStatus) string {
	switch status {
	case GateStatusOK:
		return ColorGood
	case GateStatusWarn:
		return ColorWarning
	case GateStatusError:
		return ColorDanger
	default:
		return ""
	}
}
