package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/yanun0323/go-autotrader/internal/errors"
)

const defaultTelegramEndpoint = "https://api.telegram.org"

// TelegramSink posts notifications through the Bot API sendMessage method.
type TelegramSink struct {
	Token    string
	ChatID   string
	Endpoint string
	Client   *http.Client
}

// NewTelegramSink returns nil when credentials are missing.
func NewTelegramSink(token, chatID string) *TelegramSink {
	if token == "" || chatID == "" {
		return nil
	}
	return &TelegramSink{
		Token:    token,
		ChatID:   chatID,
		Endpoint: defaultTelegramEndpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (s *TelegramSink) Send(ctx context.Context, msg Message) error {
	body, err := sonic.Marshal(telegramMessage{
		ChatID:    s.ChatID,
		Text:      fmt.Sprintf("<b>%s</b>\n%s", msg.Event, formatPayload(msg.Payload)),
		ParseMode: "HTML",
	})
	if err != nil {
		return errors.Wrap(err, "encode telegram message")
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = defaultTelegramEndpoint
	}
	url := strings.TrimSuffix(endpoint, "/") + "/bot" + s.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "telegram request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("telegram status %d: %s", resp.StatusCode, text)
	}
	return nil
}

func formatPayload(p Payload) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, p[k])
	}
	return b.String()
}
