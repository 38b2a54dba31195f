package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/crowdcast/internal/driver"
	"github.com/rewired-gh/crowdcast/internal/models"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{1 * time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "1h30m"},
		{30 * time.Minute, "30m"},
		{1 * time.Minute, "1m"},
		{1500 * time.Millisecond, "1.5s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.duration)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.duration, result, tt.expected)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := map[string]string{
		"2024-05-01":    "2024\\-05\\-01",
		"seoul-forest":  "seoul\\-forest",
		"(peak 1.5)":    "\\(peak 1\\.5\\)",
		"서울숲공원":         "서울숲공원",
		"a_b*c":         "a\\_b\\*c",
		"back\\slash!":  "back\\\\slash\\!",
		"plain message": "plain message",
	}
	for in, want := range tests {
		if got := escapeMarkdownV2(in); got != want {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", in, got, want)
		}
	}
}

func sampleSummary() *driver.Summary {
	start := time.Date(2024, 4, 30, 15, 0, 0, 0, time.UTC)
	return &driver.Summary{
		RunID:      "run-1",
		From:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:         time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC),
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Results: []driver.LocationResult{
			{LocationID: "seoul-forest", Name: "서울숲공원", Status: driver.StatusWritten, Records: 168, Crowded: 3, PeakPopulation: 52000},
			{LocationID: "4035", Name: "샤로수길", Status: driver.StatusWritten, Records: 168},
			{LocationID: "dream-forest", Status: driver.StatusSkipped, Err: models.ErrEmptySeries},
			{LocationID: "amsa-eco-park", Status: driver.StatusFailed, Err: errors.New("sink failure: disk full")},
		},
	}
}

func TestFormatSummary(t *testing.T) {
	msg := formatSummary(sampleSummary())

	for _, want := range []string{
		"2024\\-05\\-01 → 2024\\-05\\-07",
		"Written: 2",
		"Skipped: 1",
		"Failed: 1",
		"Records: 336",
		"1\\. 서울숲공원: *3* 혼잡 \\(peak 52000\\)",
		"• amsa\\-eco\\-park: sink failure: disk full",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "샤로수길") {
		t.Error("locations without crowded hours should not be listed")
	}
}

type fakeBot struct {
	attempts int
	failures int
	last     tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.attempts++
	f.last = c.(tgbotapi.MessageConfig)
	if f.attempts <= f.failures {
		return tgbotapi.Message{}, errors.New("Too Many Requests: retry after 1")
	}
	return tgbotapi.Message{MessageID: f.attempts}, nil
}

func TestSendRetries(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c, err := newClient(bot, "-100123", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}

	if err := c.SendSummary(sampleSummary()); err != nil {
		t.Fatalf("SendSummary failed: %v", err)
	}
	if bot.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", bot.attempts)
	}
	if bot.last.ChatID != -100123 || bot.last.ParseMode != "MarkdownV2" {
		t.Errorf("unexpected message config: chat %d mode %s", bot.last.ChatID, bot.last.ParseMode)
	}
}

func TestSendGivesUp(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c, err := newClient(bot, "42", 2, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.SendError(errors.New("database is locked"), 3); err == nil {
		t.Error("expected error after exhausting retries")
	}
	if bot.attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", bot.attempts)
	}
	if !strings.Contains(bot.last.Text, "Consecutive failures: *3*") {
		t.Errorf("unexpected error message: %s", bot.last.Text)
	}
}

func TestSendRecovery(t *testing.T) {
	bot := &fakeBot{}
	c, err := newClient(bot, "42", 1, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.SendRecovery(4, 95*time.Minute); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(bot.last.Text, "Downtime: 1h35m") {
		t.Errorf("unexpected recovery message: %s", bot.last.Text)
	}
}

func TestNewClientInvalidChatID(t *testing.T) {
	if _, err := newClient(&fakeBot{}, "not-a-number", 3, time.Second); err == nil {
		t.Error("expected error for invalid chat ID")
	}
}
