package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/lukasbauer/syncup/internal/archive"
	"github.com/lukasbauer/syncup/internal/gate"
	"github.com/lukasbauer/syncup/internal/output"
	"github.com/lukasbauer/syncup/internal/session"
	"github.com/lukasbauer/syncup/internal/store"
)

var defaultScript = []string{
	"Good morning everyone.",
	"Yesterday I finished the review.",
	"Today I am pairing on the release.",
	"No blockers from my side.",
}

// definition is a syncup described in a YAML file:
//
//	title: Morning Sync
//	duration: 5m
//	attendees: [Blob, Blob Jr, Blob Sr]
//	script: ["Good morning"] # lines replayed by --offline
//	id: 7b0c...              # stored syncup to attach the meeting to
type definition struct {
	ID        string   `yaml:"id"`
	Title     string   `yaml:"title"`
	Duration  string   `yaml:"duration"`
	Attendees []string `yaml:"attendees"`
	Script    []string `yaml:"script"`
}

func loadDefinition(path string) (definition, error) {
	var def definition
	data, err := os.ReadFile(path)
	if err != nil {
		return def, err
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parsing %s: %w", path, err)
	}
	return def, nil
}

type recordOptions struct {
	file      string
	title     string
	attendees []string
	duration  time.Duration
	offline   bool
	out       string
	save      bool
	syncupID  string
	owner     string
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	opts := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run a syncup in the terminal",
		Long: `Run a syncup in the terminal with live transcription.

Type a command and press enter while the meeting runs:
  n  next speaker        e  end meeting
  s  save                d  discard
  r  resume              o  dismiss a notice`,
		Example: `  syncup record -f standup.yaml
  syncup record --title "Morning Sync" -a Blob -a "Blob Jr" --duration 5m --out today.txt
  syncup record --syncup 7b0c... --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, deps, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "YAML file describing the syncup")
	cmd.Flags().StringVar(&opts.title, "title", "", "Meeting title")
	cmd.Flags().StringArrayVarP(&opts.attendees, "attendee", "a", nil, "Attendee name, in speaking order (repeatable)")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Meeting length, e.g. 5m")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Replay a scripted transcript instead of recording")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the saved transcript to this file")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Store the saved meeting in the database")
	cmd.Flags().StringVar(&opts.syncupID, "syncup", "", "Run a stored syncup by id")
	cmd.Flags().StringVar(&opts.owner, "owner", "cli", "Owner of a syncup created by --save")

	return cmd
}

// resolve merges the file, the stored syncup and the flags, later sources
// winning.
func (o *recordOptions) resolve(ctx context.Context, deps *Dependencies) (definition, time.Duration, *store.Syncup, error) {
	var def definition
	if o.file != "" {
		loaded, err := loadDefinition(o.file)
		if err != nil {
			return def, 0, nil, err
		}
		def = loaded
	}

	var duration time.Duration
	if def.Duration != "" {
		d, err := time.ParseDuration(def.Duration)
		if err != nil {
			return def, 0, nil, fmt.Errorf("invalid duration %q: %w", def.Duration, err)
		}
		duration = d
	}

	id := o.syncupID
	if id == "" {
		id = def.ID
	}
	var target *store.Syncup
	if id != "" {
		b, err := deps.Backend()
		if err != nil {
			return def, 0, nil, fmt.Errorf("opening database: %w", err)
		}
		su, err := b.Syncups().GetSyncup(ctx, id, "")
		if err != nil {
			return def, 0, nil, fmt.Errorf("loading syncup %s: %w", id, err)
		}
		target = su
		def.Title = su.Title
		def.Attendees = su.AttendeeNames()
		duration = su.Duration()
	}

	if o.title != "" {
		def.Title = o.title
	}
	if len(o.attendees) > 0 {
		def.Attendees = o.attendees
	}
	if o.duration > 0 {
		duration = o.duration
	}
	if def.Title == "" {
		def.Title = "Syncup"
	}
	return def, duration, target, nil
}

func runRecord(cmd *cobra.Command, deps *Dependencies, opts *recordOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer deps.Close()

	out := &syncWriter{w: cmd.OutOrStdout()}
	f := output.NewFormatter(out)

	def, duration, target, err := opts.resolve(ctx, deps)
	if err != nil {
		return err
	}
	spec, err := session.NewSpec(def.Attendees, duration)
	if err != nil {
		return fmt.Errorf("%w (set attendees and a duration of at least 1s)", err)
	}
	if opts.save {
		if _, err := deps.Backend(); err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
	}

	outcomes := make(chan session.Outcome, 1)
	ctrl, err := session.New(session.Config{
		Spec:     spec,
		Clock:    deps.clock(),
		Source:   deps.source(opts.offline, def.Script),
		OnFinish: func(o session.Outcome) { outcomes <- o },
		Logger:   deps.Logger,
	})
	if err != nil {
		return err
	}

	startedAt := time.Now().UTC()
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	tty, width := terminal(cmd.OutOrStdout())
	f.WithWidth(width)
	f.SessionStarted(def.Title, spec)

	go readCommands(cmd.InOrStdin(), ctrl, f)

	r := &renderer{f: f, tty: tty}
	for p := range ctrl.Watch() {
		r.update(p)
	}
	r.breakLine()

	o := <-outcomes
	if err := ctrl.Wait(); err != nil {
		deps.Logger.Warn().Err(err).Msg("session teardown failed")
	}

	if !o.Finished() {
		if ctx.Err() != nil {
			f.Info("Recording cancelled")
		} else {
			f.Discarded()
		}
		return nil
	}

	f.Transcript(o.Transcript)
	if opts.out != "" {
		if err := os.WriteFile(opts.out, []byte(o.Transcript+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
		f.TranscriptWritten(opts.out)
	}

	if opts.save {
		return saveMeeting(deps, f, opts.owner, def, duration, target, ctrl.ID(), startedAt, o.Transcript)
	}
	return nil
}

func saveMeeting(deps *Dependencies, f *output.Formatter, owner string, def definition, duration time.Duration, target *store.Syncup, sessionID string, startedAt time.Time, transcript string) error {
	b, err := deps.Backend()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if target == nil {
		target, err = b.Syncups().CreateSyncup(ctx, store.NewSyncup{
			OwnerID:   owner,
			Title:     def.Title,
			Duration:  duration,
			Attendees: def.Attendees,
		})
		if err != nil {
			return fmt.Errorf("creating syncup: %w", err)
		}
		f.Info(fmt.Sprintf("Created syncup %s", target.ID))
	}

	m, err := b.Archiver().Save(ctx, archive.Record{
		Syncup:     *target,
		SessionID:  sessionID,
		StartedAt:  startedAt,
		EndedAt:    time.Now().UTC(),
		Transcript: transcript,
	})
	if err != nil {
		return fmt.Errorf("saving meeting: %w", err)
	}
	f.MeetingSaved(m)
	return nil
}

// readCommands turns input lines into controller calls until the session
// ends or the input is exhausted.
func readCommands(in io.Reader, ctrl *session.Controller, f *output.Formatter) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case <-ctrl.Done():
			return
		default:
		}

		key := strings.ToLower(strings.TrimSpace(sc.Text()))
		switch key {
		case "":
		case "n":
			ctrl.AdvanceSpeaker()
		case "e":
			ctrl.RequestEndMeeting()
		default:
			choice, ok := output.ChoiceKeys[key]
			if !ok {
				f.Warning(fmt.Sprintf("unknown command %q", key))
				continue
			}
			if ctrl.ResolveDialog(choice) == gate.Ignored {
				f.Warning(fmt.Sprintf("%s is not available right now", choice))
			}
		}
	}
}

// renderer prints progress updates. On a terminal it redraws one status
// line; otherwise it prints a line per speaker turn.
type renderer struct {
	f       *output.Formatter
	tty     bool
	dialog  gate.State
	speaker int
	started bool
	inLine  bool
}

func (r *renderer) update(p session.Progress) {
	if p.Phase == session.Ended {
		return
	}
	if p.Dialog != r.dialog {
		r.dialog = p.Dialog
		if p.Dialog.IsOpen() {
			r.breakLine()
			r.f.Dialog(p.Dialog)
		}
	}
	if r.tty {
		r.f.StatusLine(p)
		r.inLine = true
		return
	}
	if !r.started || p.SpeakerIndex != r.speaker {
		r.f.SpeakerLine(p)
	}
	r.started = true
	r.speaker = p.SpeakerIndex
}

func (r *renderer) breakLine() {
	if r.inLine {
		r.f.EndLine()
		r.inLine = false
	}
}

// terminal reports whether w is a terminal and its width.
func terminal(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok {
		return false, 0
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return true, 0
	}
	return true, width
}

// syncWriter lets the renderer and the command reader share one output.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
