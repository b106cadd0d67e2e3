package notifications

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lukasbauer/syncup/internal/store"
)

// MeetingSaved describes a meeting that was just stored.
type MeetingSaved struct {
	SyncupID    string
	SyncupTitle string
	MeetingID   string
	OwnerID     string
	Attendees   int
	Duration    time.Duration
	Transcript  string
	EndedAt     time.Time
}

// TokenLister looks up a user's push tokens.
type TokenLister interface {
	GetUserPushTokens(ctx context.Context, userID, platform string) ([]store.DevicePushToken, error)
}

// Notifier fans a saved meeting out to Discord and to the owner's iOS devices.
// Nil members are skipped.
type Notifier struct {
	Discord *Discord
	APNs    *APNsClient
	Tokens  TokenLister
	Logger  zerolog.Logger
}

// MeetingSaved sends every configured notification and joins their errors.
func (n *Notifier) MeetingSaved(ctx context.Context, m MeetingSaved) error {
	if n == nil {
		return nil
	}
	var errs []error

	if n.Discord.Enabled() {
		if err := n.Discord.NotifyMeetingSaved(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}

	if n.APNs != nil && n.Tokens != nil && m.OwnerID != "" {
		tokens, err := n.Tokens.GetUserPushTokens(ctx, m.OwnerID, "ios")
		if err != nil {
			errs = append(errs, err)
		}
		for _, t := range tokens {
			if err := n.APNs.SendMeetingNotification(t.Token, m); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// preview shortens a transcript to at most max runes on a word boundary.
func preview(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "(no transcript)"
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)[:max]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
