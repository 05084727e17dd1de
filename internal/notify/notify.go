package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Service pushes refresh summaries to a Telegram chat. A service built
// without a bot token is disabled and drops every message silently.
type Service struct {
	logger   *logrus.Logger
	client   *http.Client
	botToken string
	chatID   string
}

func NewService(logger *logrus.Logger, botToken, chatID string) *Service {
	return &Service{
		logger:   logger,
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether the service is configured to send anything.
func (s *Service) Enabled() bool {
	return s.botToken != "" && s.chatID != ""
}

// SendMessage sends a message to the configured Telegram chat
func (s *Service) SendMessage(message string) error {
	if !s.Enabled() {
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)
	payload := map[string]interface{}{
		"chat_id":    s.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %v", err)
	}

	resp, err := s.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return errors.New("invalid bot token - please check your token from @BotFather")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		case http.StatusNotFound:
			return errors.New("bot not found - please check your token from @BotFather")
		default:
			return fmt.Errorf("Telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}

// NotifyRefreshComplete sends a summary of a finished refresh sweep.
func (s *Service) NotifyRefreshComplete(batches, rows, failures int, elapsed time.Duration) error {
	if !s.Enabled() {
		return nil
	}

	title := "<b>Data refresh complete</b>"
	if failures > 0 {
		title = fmt.Sprintf("<b>⚠️ Data refresh finished with %d failed batches</b>", failures)
	}

	message := fmt.Sprintf(
		"%s\n\n"+
			"📦 Batches: %d\n"+
			"📊 Rows written: %d\n"+
			"⏱️ Duration: %s",
		title,
		batches,
		rows,
		elapsed.Round(time.Second),
	)

	if err := s.SendMessage(message); err != nil {
		s.logger.WithError(err).Error("Failed to send refresh notification")
		return err
	}
	return nil
}
