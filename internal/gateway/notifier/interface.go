package notifier

import "context"

// TextNotifier defines a minimal text notification interface.
// Components depend on it instead of a concrete transport such as Telegram.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// StructuredNotifier renders a StructuredMessage before sending it as text.
type StructuredNotifier struct {
	Text TextNotifier
}

func (s StructuredNotifier) SendStructured(ctx context.Context, msg StructuredMessage) error {
	if s.Text == nil {
		return nil
	}
	return s.Text.SendText(ctx, msg.RenderMarkdown())
}

// Nop 丢弃所有消息，用于未启用通知的部署。
type Nop struct{}

func (Nop) SendText(context.Context, string) error { return nil }
