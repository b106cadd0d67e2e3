package output

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lukasbauer/syncup/internal/gate"
	"github.com/lukasbauer/syncup/internal/session"
	"github.com/lukasbauer/syncup/internal/store"
)

// ChoiceKeys maps the single-letter input commands to dialog choices.
var ChoiceKeys = map[string]gate.Choice{
	"s": gate.Save,
	"d": gate.Discard,
	"r": gate.Resume,
	"o": gate.Dismiss,
}

var choiceLabels = map[gate.Choice]string{
	gate.Save:    "[s]ave",
	gate.Discard: "[d]iscard",
	gate.Resume:  "[r]esume",
	gate.Dismiss: "[o]k",
}

type Formatter struct {
	w     io.Writer
	width int // 0 means unlimited
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

// WithWidth limits status lines to n columns.
func (f *Formatter) WithWidth(n int) *Formatter {
	f.width = n
	return f
}

func (f *Formatter) SessionStarted(title string, spec session.Spec) {
	fmt.Fprintf(f.w, "🎙️  %s: %d attendees, %s (%s each)\n",
		title, spec.AttendeeCount(), formatDuration(spec.Duration()),
		formatDuration(time.Duration(spec.PerAttendee())*time.Second))
	fmt.Fprintf(f.w, "   [n]ext speaker  [e]nd meeting\n\n")
}

// StatusLine redraws the single live status line in place.
func (f *Formatter) StatusLine(p session.Progress) {
	fmt.Fprintf(f.w, "\r\033[K%s", f.fit(statusText(p)))
}

// SpeakerLine prints one line per speaker turn, for output that is not a terminal.
func (f *Formatter) SpeakerLine(p session.Progress) {
	fmt.Fprintf(f.w, "🎤 %s (%d/%d), %s left\n", p.Speaker, p.SpeakerIndex+1, p.AttendeeCount, formatClock(p.SecondsRemaining))
}

// EndLine terminates a status line before other output.
func (f *Formatter) EndLine() {
	fmt.Fprintln(f.w)
}

func (f *Formatter) Dialog(s gate.State) {
	switch s.Kind {
	case gate.EndMeeting:
		if s.Discardable {
			fmt.Fprintf(f.w, "🛑 End meeting? You can save the meeting, discard it, or resume.\n")
		} else {
			fmt.Fprintf(f.w, "⏰ Time is up. The meeting will be saved.\n")
		}
	case gate.TranscriptionFailed:
		fmt.Fprintf(f.w, "⚠️  %s\n", s.Message)
	case gate.Fatal:
		fmt.Fprintf(f.w, "❌ %s\n", s.Message)
	default:
		return
	}
	labels := make([]string, 0, len(s.Choices()))
	for _, c := range s.Choices() {
		labels = append(labels, choiceLabels[c])
	}
	fmt.Fprintf(f.w, "   %s\n", strings.Join(labels, "  "))
}

func (f *Formatter) Transcript(text string) {
	if strings.TrimSpace(text) == "" {
		fmt.Fprintf(f.w, "\n📝 (no transcript)\n")
		return
	}
	fmt.Fprintf(f.w, "\n📝 Transcript:\n%s\n", text)
}

func (f *Formatter) Discarded() {
	fmt.Fprintf(f.w, "🗑️  Meeting discarded\n")
}

func (f *Formatter) TranscriptWritten(path string) {
	fmt.Fprintf(f.w, "✅ Transcript saved: %s\n", path)
}

func (f *Formatter) MeetingSaved(m *store.Meeting) {
	fmt.Fprintf(f.w, "✅ Meeting saved: %s\n", m.ID)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) MeetingListHeader(title string) {
	fmt.Fprintf(f.w, "📁 %s meetings:\n\n", title)
}

func (f *Formatter) MeetingListItem(m store.Meeting) {
	fmt.Fprintf(f.w, "  %s  %s  %s\n",
		m.StartedAt.Local().Format("2006-01-02 15:04"),
		formatDuration(m.EndedAt.Sub(m.StartedAt)),
		truncate(strings.Join(strings.Fields(m.Transcript), " "), 60))
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		fmt.Fprintf(f.w, "  ✅ %s: %s\n", name, detail)
	} else {
		fmt.Fprintf(f.w, "  ❌ %s: %s\n", name, detail)
	}
}

func (f *Formatter) fit(s string) string {
	if f.width <= 0 {
		return s
	}
	return truncate(s, f.width-1)
}

func statusText(p session.Progress) string {
	s := fmt.Sprintf("⏱ %s left · 🎤 %s (%d/%d)", formatClock(p.SecondsRemaining), p.Speaker, p.SpeakerIndex+1, p.AttendeeCount)
	if !p.Transcribing {
		s += " · not transcribing"
	}
	if tail := lastWords(p.Transcript, 8); tail != "" {
		s += " · " + tail
	}
	return s
}

func lastWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return "…" + strings.Join(words[len(words)-n:], " ")
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}

func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
