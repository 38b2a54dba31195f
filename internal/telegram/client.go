// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats congestion batch summaries into human-readable messages and handles
// delivery with retry logic for reliability.
//
// The client uses MarkdownV2 formatting and reports pipeline errors and
// recoveries so an operator notices a stalled batch loop.
package telegram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/crowdcast/internal/driver"
	"github.com/rewired-gh/crowdcast/internal/models"
)

// maxListed caps the number of locations listed per section.
const maxListed = 10

// sender is the part of *tgbotapi.BotAPI used by Client.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// SendSummary sends the outcome of a batch
func (c *Client) SendSummary(s *driver.Summary) error {
	return c.send(formatSummary(s))
}

// SendError reports consecutive batch failures
func (c *Client) SendError(err error, consecutive int) error {
	message := "⚠️ *Congestion batch failed*\n\n"
	message += fmt.Sprintf("Consecutive failures: *%d*\n", consecutive)
	message += fmt.Sprintf("Error: `%s`\n", escapeCode(err.Error()))
	return c.send(message)
}

// SendRecovery reports that batches succeed again after downtime
func (c *Client) SendRecovery(failures int, downtime time.Duration) error {
	message := "✅ *Congestion batches recovered*\n\n"
	message += fmt.Sprintf("Failed runs: *%d*\n", failures)
	message += fmt.Sprintf("Downtime: %s\n", escapeMarkdownV2(formatDuration(downtime)))
	return c.send(message)
}

func (c *Client) send(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatSummary formats a batch summary into a Telegram message
func formatSummary(s *driver.Summary) string {
	var b strings.Builder

	b.WriteString("📊 *Congestion forecast updated*\n\n")
	fmt.Fprintf(&b, "📅 %s → %s\n",
		escapeMarkdownV2(s.From.Format(models.DateLayout)),
		escapeMarkdownV2(s.To.Format(models.DateLayout)))
	fmt.Fprintf(&b, "✅ Written: %d   ⏭ Skipped: %d   ❌ Failed: %d\n",
		s.Count(driver.StatusWritten), s.Count(driver.StatusSkipped), s.Count(driver.StatusFailed))
	fmt.Fprintf(&b, "📝 Records: %d   ⏱ Took: %s\n",
		s.RecordsWritten(), escapeMarkdownV2(formatDuration(s.Duration())))

	var crowded []driver.LocationResult
	for _, r := range s.Results {
		if r.Status == driver.StatusWritten && r.Crowded > 0 {
			crowded = append(crowded, r)
		}
	}
	sort.SliceStable(crowded, func(i, j int) bool {
		return crowded[i].Crowded > crowded[j].Crowded
	})

	if len(crowded) > 0 {
		b.WriteString("\n🚶 *Crowded hours*\n")
		for i, r := range crowded {
			if i == maxListed {
				fmt.Fprintf(&b, "…and %d more\n", len(crowded)-maxListed)
				break
			}
			fmt.Fprintf(&b, "%d\\. %s: *%d* %s \\(peak %s\\)\n",
				i+1, escapeMarkdownV2(displayName(r)), r.Crowded, models.LabelCrowded.Korean(),
				escapeMarkdownV2(fmt.Sprintf("%.0f", r.PeakPopulation)))
		}
	}

	failed := s.Failed()
	if len(failed) > 0 {
		b.WriteString("\n❌ *Failed locations*\n")
		for i, r := range failed {
			if i == maxListed {
				fmt.Fprintf(&b, "…and %d more\n", len(failed)-maxListed)
				break
			}
			reason := "unknown error"
			if r.Err != nil {
				reason = r.Err.Error()
			}
			fmt.Fprintf(&b, "• %s: %s\n", escapeMarkdownV2(displayName(r)), escapeMarkdownV2(truncate(reason, 120)))
		}
	}

	return b.String()
}

func displayName(r driver.LocationResult) string {
	if r.Name != "" {
		return r.Name
	}
	return r.LocationID
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a MarkdownV2 code span
func escapeCode(text string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return r.Replace(text)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		if mins := int(d.Minutes()) % 60; mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if mins := int(d.Minutes()); mins >= 1 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
