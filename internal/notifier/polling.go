package notifier

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// longPollSeconds is how long getUpdates may hold the connection open.
const longPollSeconds = 30

// CommandHandler answers one chat command. An empty reply sends nothing.
type CommandHandler func(ctx context.Context, command string) string

type update struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// StartPolling long-polls getUpdates and answers commands from the configured
// chat. It blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	client := &http.Client{
		Timeout:   (longPollSeconds + 5) * time.Second,
		Transport: t.Client.Transport,
	}
	offset := 0
	failures := 0
	for ctx.Err() == nil {
		next, err := t.poll(ctx, client, offset, handler)
		if err == nil {
			offset, failures = next, 0
			continue
		}
		if ctx.Err() != nil {
			break
		}
		failures++
		wait := min(time.Duration(failures)*5*time.Second, time.Minute)
		t.Logger.Warn("telegram polling failed", zap.Int("failures", failures), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	t.Logger.Info("telegram polling stopped")
}

// poll handles one getUpdates batch and returns the offset that acknowledges it.
func (t *TelegramNotifier) poll(ctx context.Context, client *http.Client, offset int, handler CommandHandler) (int, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         longPollSeconds,
		"allowed_updates": []string{"message"},
	}
	var updates []update
	if err := t.call(ctx, client, "getUpdates", params, &updates); err != nil {
		return offset, err
	}

	for _, u := range updates {
		offset = u.UpdateID + 1
		if u.Message == nil {
			continue
		}
		if strconv.FormatInt(u.Message.Chat.ID, 10) != t.ChatID {
			t.Logger.Warn("ignoring message from foreign chat", zap.Int64("chat", u.Message.Chat.ID))
			continue
		}
		text := strings.TrimSpace(u.Message.Text)
		if !strings.HasPrefix(text, "/") {
			continue
		}
		t.Logger.Info("received command", zap.String("command", text))
		if reply := handler(ctx, text); reply != "" {
			if err := t.Send(ctx, reply); err != nil {
				t.Logger.Error("send reply failed", zap.String("command", text), zap.Error(err))
			}
		}
	}
	return offset, nil
}
