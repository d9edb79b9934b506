package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	maxSendAttempts  = 3
	defaultBaseDelay = 500 * time.Millisecond
)

// RecipientResult records delivery to one chat.
type RecipientResult struct {
	ChatID   int64
	Attempts int
	Err      error
}

// Report summarizes one dispatch across all recipients.
type Report struct {
	Results []RecipientResult
	Sent    int
	Failed  int
}

// Dispatcher fans a message out to every configured admin chat with
// per-recipient retry. Dispatch never returns an error: notification
// failures must not disturb the payment path, so they end up in the
// report and the log only.
type Dispatcher struct {
	sender    Sender
	chatIDs   []int64
	logger    *slog.Logger
	baseDelay time.Duration
}

func NewDispatcher(sender Sender, chatIDs []int64, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:    sender,
		chatIDs:   chatIDs,
		logger:    logger,
		baseDelay: defaultBaseDelay,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, text string) Report {
	report := Report{Results: make([]RecipientResult, 0, len(d.chatIDs))}
	if d.sender == nil || len(d.chatIDs) == 0 {
		return report
	}
	for _, chatID := range d.chatIDs {
		result := d.sendWithRetry(ctx, chatID, text)
		if result.Err == nil {
			report.Sent++
		} else {
			report.Failed++
			d.logger.Error("notification_failed", "chat_id", chatID, "attempts", result.Attempts, "error", result.Err)
		}
		report.Results = append(report.Results, result)
	}
	return report
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, chatID int64, text string) RecipientResult {
	result := RecipientResult{ChatID: chatID}
	delay := d.baseDelay
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		result.Attempts = attempt
		err := d.sender.Send(ctx, chatID, text)
		if err == nil {
			result.Err = nil
			return result
		}
		result.Err = err
		if attempt == maxSendAttempts {
			break
		}

		wait := delay
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Err = ctx.Err()
			return result
		case <-timer.C:
		}
		delay *= 2
	}
	return result
}
