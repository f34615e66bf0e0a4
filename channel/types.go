package channel

// ParseMode selects how the channel renders message markup
type ParseMode string

const (
	ParseModeNone     ParseMode = ""
	ParseModeHTML     ParseMode = "HTML"
	ParseModeMarkdown ParseMode = "MarkdownV2"
)

// SendOptions are the formatting options passed with a message
type SendOptions struct {
	ParseMode             ParseMode `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool      `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool      `json:"disable_notification,omitempty"`
}

// DefaultSendOptions returns HTML formatting without link previews
func DefaultSendOptions() *SendOptions {
	return &SendOptions{
		ParseMode:             ParseModeHTML,
		DisableWebPagePreview: true,
	}
}
