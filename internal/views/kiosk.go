package views

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"daso/internal/checkin"
	"daso/internal/events"
	"daso/internal/models"
	"daso/internal/slots"
	"daso/internal/speech"
	"daso/internal/wizard"
)

// KioskAPI is what the kiosk needs from the queue service.
type KioskAPI interface {
	wizard.Booker
	wizard.CatalogSource
	checkin.Looker
	slots.AppointmentSource
}

// KioskConfig wires the kiosk. With a nil Recognizer the line typed after
// "voice" is taken as the utterance. A non-empty Mode opens the booking
// wizard in that mode as soon as Run starts; DefaultMode is what "book"
// opens from the menu.
type KioskConfig struct {
	API            KioskAPI
	Mode           models.BookingMode
	DefaultMode    models.BookingMode
	Schedule       slots.Schedule
	DaysAhead      int
	ScanDuration   time.Duration
	SuccessDisplay time.Duration
	ResetAfter     time.Duration
	VoiceTimeout   time.Duration
	Recognizer     speech.Recognizer
	Clock          clockwork.Clock
	Logger         *zerolog.Logger
	Events         *events.EventBus
	Out            io.Writer
}

type kioskScreen string

const (
	screenMenu    kioskScreen = "menu"
	screenWizard  kioskScreen = "wizard"
	screenCheckIn kioskScreen = "checkin"
	screenSuccess kioskScreen = "success"
)

// Kiosk is the customer-facing self-service terminal.
type Kiosk struct {
	cfg     KioskConfig
	out     *screen
	clock   clockwork.Clock
	logger  zerolog.Logger
	planner *slots.Planner
	speech  *speech.Controller
	voiceIn *io.PipeWriter

	mu         sync.Mutex
	screen     kioskScreen
	wizard     *wizard.Wizard
	checkin    *checkin.Controller
	success    string
	resetTimer clockwork.Timer
	gen        uint64
}

// NewKiosk builds the kiosk on its menu screen.
func NewKiosk(cfg KioskConfig) *Kiosk {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = 15 * time.Second
	}
	if !cfg.DefaultMode.Valid() {
		cfg.DefaultMode = models.ModeWalkIn
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	k := &Kiosk{
		cfg:     cfg,
		out:     newScreen(cfg.Out),
		clock:   cfg.Clock,
		logger:  logger.With().Str("view", "kiosk").Logger(),
		planner: slots.NewPlanner(cfg.API, cfg.Schedule, cfg.Clock, cfg.Logger),
		screen:  screenMenu,
	}
	rec := cfg.Recognizer
	if rec == nil {
		pr, pw := io.Pipe()
		k.voiceIn = pw
		rec = speech.NewLineRecognizer(pr)
	}
	k.speech = speech.NewController(rec, cfg.VoiceTimeout, cfg.Logger)
	return k
}

// Run reads kiosk input until in is exhausted, "quit" is read or ctx is
// done. Every timer and pending voice request is torn down on return.
func (k *Kiosk) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer k.teardown()

	if k.cfg.Mode != "" {
		k.startWizard(ctx, k.cfg.Mode)
	}
	k.Render(k.out)
	return readCommands(ctx, in, func(cmd string, args []string) bool {
		if k.voiceIn != nil && k.speech.Listening() {
			utterance := strings.TrimSpace(cmd + " " + strings.Join(args, " "))
			if _, err := io.WriteString(k.voiceIn, utterance+"\n"); err != nil {
				k.logger.Warn().Err(err).Msg("voice input closed")
			}
			return true
		}
		if cmd == "quit" || cmd == "exit" {
			return false
		}
		k.handle(ctx, cmd, args)
		k.Render(k.out)
		return true
	})
}

func (k *Kiosk) teardown() {
	k.speech.Cancel()
	k.reset()
	if k.voiceIn != nil {
		_ = k.voiceIn.Close()
	}
}

func (k *Kiosk) handle(ctx context.Context, cmd string, args []string) {
	k.mu.Lock()
	scr, w, c := k.screen, k.wizard, k.checkin
	k.mu.Unlock()

	if cmd == "cancel" || cmd == "home" {
		k.reset()
		return
	}

	switch scr {
	case screenMenu:
		switch cmd {
		case "walkin", "walk_in":
			k.startWizard(ctx, models.ModeWalkIn)
		case "prebook", "pre_book":
			k.startWizard(ctx, models.ModePreBook)
		case "book":
			k.startWizard(ctx, k.cfg.DefaultMode)
		case "checkin":
			k.startCheckIn()
		case "":
		default:
			k.out.printf("Choose walkin, prebook or checkin.\n")
		}
	case screenWizard:
		k.report(k.wizardCommand(ctx, w, cmd, args))
	case screenCheckIn:
		k.report(k.checkInCommand(ctx, c, cmd, args))
	case screenSuccess:
		k.reset()
	}
}

func (k *Kiosk) report(err error) {
	var ve *wizard.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve):
		k.out.printf("  %s\n", ve.Message)
	default:
		k.out.printf("  %v\n", err)
	}
}

func (k *Kiosk) startWizard(ctx context.Context, mode models.BookingMode) {
	w, err := wizard.New(ctx, wizard.Config{
		Mode:      mode,
		Booker:    k.cfg.API,
		Catalog:   k.cfg.API,
		Planner:   k.planner,
		DaysAhead: k.cfg.DaysAhead,
		Logger:    k.flowLogger(string(mode)),
		Events:    k.cfg.Events,
		OnSuccess: k.bookingDone,
	})
	if err != nil {
		k.out.printf("cannot start booking: %v\n", err)
		return
	}
	k.mu.Lock()
	k.gen++
	k.screen = screenWizard
	k.wizard = w
	k.mu.Unlock()
}

func (k *Kiosk) startCheckIn() {
	c := checkin.New(checkin.Config{
		Looker:       k.cfg.API,
		ScanDuration: k.cfg.ScanDuration,
		DisplayDelay: k.cfg.SuccessDisplay,
		Clock:        k.clock,
		Logger:       k.flowLogger("checkin"),
		Events:       k.cfg.Events,
		OnComplete:   k.checkInDone,
	})
	k.mu.Lock()
	k.gen++
	k.screen = screenCheckIn
	k.checkin = c
	k.mu.Unlock()
}

// flowLogger tags everything one customer does at the kiosk with a session id.
func (k *Kiosk) flowLogger(flow string) *zerolog.Logger {
	l := k.logger.With().Str("flow", flow).Str("session", uuid.NewString()).Logger()
	l.Info().Msg("flow started")
	return &l
}

func (k *Kiosk) wizardCommand(ctx context.Context, w *wizard.Wizard, cmd string, args []string) error {
	arg := strings.Join(args, " ")
	switch cmd {
	case "back":
		return w.Back()
	case "mobile":
		_, err := w.SetMobile(arg)
		return err
	case "name":
		return w.SetName(arg)
	case "age":
		age, err := strconv.Atoi(arg)
		if err != nil {
			return &wizard.ValidationError{Field: "age", Message: "age must be a number"}
		}
		return w.SetAge(age)
	case "disabled":
		return w.SetDisabled(arg == "" || arg == "yes" || arg == "y")
	case "next":
		if w.Snapshot().Step == wizard.StepContact {
			return w.SubmitContact()
		}
		return w.Continue(ctx)
	case "service":
		return w.SelectService(ctx, k.serviceArg(w, arg))
	case "voice":
		return k.listen(ctx, w)
	case "date":
		day, err := k.dateArg(arg)
		if err != nil {
			return err
		}
		return w.SelectDate(ctx, day)
	case "slot":
		return w.SelectSlot(arg)
	case "submit":
		_, err := w.Submit(ctx)
		return err
	case "":
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// serviceArg accepts a catalog id or its 1-based position.
func (k *Kiosk) serviceArg(w *wizard.Wizard, arg string) string {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg
	}
	catalog := w.Snapshot().Catalog
	if n < 1 || n > len(catalog) {
		return arg
	}
	return catalog[n-1].ID
}

// dateArg accepts YYYY-MM-DD or +N days from today.
func (k *Kiosk) dateArg(arg string) (time.Time, error) {
	if strings.HasPrefix(arg, "+") {
		n, err := strconv.Atoi(arg[1:])
		if err != nil {
			return time.Time{}, &wizard.ValidationError{Field: "scheduled_date", Message: "use +N or YYYY-MM-DD"}
		}
		now := k.clock.Now().In(time.Local)
		return time.Date(now.Year(), now.Month(), now.Day()+n, 0, 0, 0, 0, time.Local), nil
	}
	day, err := time.ParseInLocation("2006-01-02", arg, time.Local)
	if err != nil {
		return time.Time{}, &wizard.ValidationError{Field: "scheduled_date", Message: "use +N or YYYY-MM-DD"}
	}
	return day, nil
}

func (k *Kiosk) listen(ctx context.Context, w *wizard.Wizard) error {
	if w.Snapshot().Step != wizard.StepService {
		return errors.New("voice selection is only available when choosing a service")
	}
	err := k.speech.Listen(ctx, func(r speech.Result) {
		if r.Err != nil {
			k.out.printf("  Sorry, I did not catch that (%v).\n", r.Err)
			return
		}
		matched, err := w.HandleTranscript(ctx, r.Transcript)
		switch {
		case err != nil:
			k.report(err)
		case !matched:
			k.out.printf("  Heard %q. Please say the service name again or tap a service.\n", r.Transcript)
		}
		k.Render(k.out)
	})
	if err != nil {
		return err
	}
	k.out.printf("  Listening... say the service you need.\n")
	return nil
}

func (k *Kiosk) checkInCommand(ctx context.Context, c *checkin.Controller, cmd string, args []string) error {
	switch cmd {
	case "mobile":
		if _, err := c.SetMobile(strings.Join(args, "")); err != nil {
			return err
		}
		return c.Verify(ctx)
	case "verify":
		return c.Verify(ctx)
	case "retry":
		return c.Retry()
	case "":
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (k *Kiosk) bookingDone(res *models.BookingResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "Token %s\n", res.TokenNumber)
	if res.QueuePosition != nil {
		fmt.Fprintf(&b, "Position in queue: %d\n", *res.QueuePosition)
	}
	if res.EstimatedWaitMin != nil {
		fmt.Fprintf(&b, "Estimated wait: %.0f min\n", *res.EstimatedWaitMin)
	}
	fmt.Fprintf(&b, "Expected service time: %.0f min\n", res.PredictedDurationMin)
	if res.AssignedCounter != nil {
		fmt.Fprintf(&b, "Counter: %d\n", *res.AssignedCounter)
	}
	k.showSuccess(b.String())
}

func (k *Kiosk) checkInDone(res *models.CheckInResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "Checked in. Token %s\n", res.TokenNumber)
	if res.QueuePosition != nil {
		fmt.Fprintf(&b, "Position in queue: %d\n", *res.QueuePosition)
	}
	k.showSuccess(b.String())
	k.Render(k.out)
}

func (k *Kiosk) showSuccess(text string) {
	k.mu.Lock()
	k.gen++
	gen := k.gen
	k.screen = screenSuccess
	k.success = text
	if k.resetTimer != nil {
		k.resetTimer.Stop()
	}
	k.resetTimer = k.clock.AfterFunc(k.cfg.ResetAfter, func() {
		k.mu.Lock()
		stale := k.gen != gen
		k.mu.Unlock()
		if stale {
			return
		}
		k.reset()
		k.Render(k.out)
	})
	k.mu.Unlock()
}

// reset returns to the menu, closing whatever flow was open.
func (k *Kiosk) reset() {
	k.speech.Cancel()
	k.mu.Lock()
	defer k.mu.Unlock()
	k.gen++
	if k.wizard != nil {
		k.wizard.Close()
		k.wizard = nil
	}
	if k.checkin != nil {
		k.checkin.Close()
		k.checkin = nil
	}
	if k.resetTimer != nil {
		k.resetTimer.Stop()
		k.resetTimer = nil
	}
	k.screen = screenMenu
	k.success = ""
}

// Screen reports the screen currently shown.
func (k *Kiosk) Screen() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return string(k.screen)
}

// Render writes the current screen to w.
func (k *Kiosk) Render(w io.Writer) {
	k.mu.Lock()
	scr, wz, c, success := k.screen, k.wizard, k.checkin, k.success
	k.mu.Unlock()

	var b strings.Builder
	switch scr {
	case screenMenu:
		b.WriteString("== Welcome ==\nwalkin   get a token now\nprebook  book an appointment\ncheckin  I have an appointment\n")
		fmt.Fprintf(&b, "book     %s\n", displayService(string(k.cfg.DefaultMode)))
	case screenSuccess:
		b.WriteString("== Thank you ==\n" + success + "(returning to start shortly)\n")
	case screenCheckIn:
		renderCheckIn(&b, c.Snapshot())
	case screenWizard:
		renderWizard(&b, wz.Snapshot())
	}
	_, _ = io.WriteString(w, b.String())
}

func renderCheckIn(b *strings.Builder, s checkin.Snapshot) {
	b.WriteString("== Check in ==\n")
	switch s.State {
	case checkin.StateScanning:
		b.WriteString("Looking for your phone nearby...\n")
	case checkin.StateAwaitingInput:
		fmt.Fprintf(b, "Enter your %d-digit mobile: mobile <number>\n", models.MobileDigits)
	case checkin.StateVerifying:
		b.WriteString("Checking your appointment...\n")
	case checkin.StateSuccess:
		fmt.Fprintf(b, "Welcome! Token %s\n", s.Result.TokenNumber)
	case checkin.StateError:
		fmt.Fprintf(b, "%s\nretry or cancel\n", s.Message)
	}
}

func renderWizard(b *strings.Builder, s wizard.Snapshot) {
	fmt.Fprintf(b, "== %s (step %d) ==\n", wizard.StepPrompts[s.Step], s.Step)
	switch s.Step {
	case wizard.StepContact:
		fmt.Fprintf(b, "mobile: %s  name: %s  age: %d  assistance: %t\n", s.Draft.Mobile, s.Draft.Name, s.Draft.Age, s.Draft.IsDisabled)
		b.WriteString("commands: mobile, name, age, disabled, next\n")
	case wizard.StepService:
		for i, svc := range s.Catalog {
			mark := " "
			if svc.ID == s.Draft.ServiceType {
				mark = "*"
			}
			fmt.Fprintf(b, "%s %d. %-18s ~%.0f min\n", mark, i+1, svc.DisplayName(), svc.BaseDurationMin)
		}
		b.WriteString("commands: service <n|id>, voice, back")
		if s.Mode == models.ModePreBook {
			b.WriteString(", next")
		}
		b.WriteString("\n")
	case wizard.StepTimeSlot:
		fmt.Fprintf(b, "service: %s  date: %s\n", displayService(s.Draft.ServiceType), s.Draft.ScheduledDate.Format("Mon 02 Jan"))
		for _, slot := range s.Slots {
			switch {
			case slot.Time == s.Draft.ScheduledTimeSlot:
				fmt.Fprintf(b, " [%s]", slot.Time)
			case slot.Available:
				fmt.Fprintf(b, "  %s ", slot.Time)
			default:
				fmt.Fprintf(b, "  --:-- ")
			}
		}
		b.WriteString("\ncommands: date <+N|YYYY-MM-DD>, slot HH:MM, submit, back\n")
	}
	if s.Submitting {
		b.WriteString("Booking...\n")
	}
	if s.Err != nil {
		fmt.Fprintf(b, "! %v\n", s.Err)
	}
}
