package views

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"daso/internal/models"
	"daso/internal/poller"
	"daso/internal/report"
)

// AdminAPI is what the manager dashboard needs from the queue service.
type AdminAPI interface {
	Analytics(ctx context.Context) (*models.Analytics, error)
	Appointments(ctx context.Context, date time.Time) ([]models.Appointment, error)
	Staff(ctx context.Context) ([]models.StaffMember, error)
	HoldingPool(ctx context.Context) ([]models.QueueEntry, error)
}

// AdminConfig wires the dashboard.
type AdminConfig struct {
	API                  AdminAPI
	AnalyticsInterval    time.Duration
	AppointmentsInterval time.Duration
	StaffInterval        time.Duration
	ExportDir            string
	DailyExportAt        string
	Clock                clockwork.Clock
	Logger               *zerolog.Logger
	Out                  io.Writer
}

type floor struct {
	staff   []models.StaffMember
	holding []models.QueueEntry
}

// Admin is the manager dashboard. Each data source is polled on its own
// schedule and rendered as last received.
type Admin struct {
	out       *screen
	clock     clockwork.Clock
	logger    zerolog.Logger
	exportDir string

	analytics    *poller.Scheduler[*models.Analytics]
	appointments *poller.Scheduler[[]models.Appointment]
	floor        *poller.Scheduler[floor]
	daily        *report.Scheduler

	mu   sync.Mutex
	dash report.Dashboard
}

// NewAdmin builds the dashboard. Nothing runs until Run.
func NewAdmin(cfg AdminConfig) *Admin {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "."
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	a := &Admin{
		out:       newScreen(cfg.Out),
		clock:     cfg.Clock,
		logger:    logger.With().Str("view", "admin").Logger(),
		exportDir: cfg.ExportDir,
	}
	opts := []poller.Option{poller.WithClock(cfg.Clock), poller.WithLogger(cfg.Logger)}

	a.analytics = poller.New("analytics", cfg.AnalyticsInterval, cfg.API.Analytics, func(v *models.Analytics) {
		a.mu.Lock()
		a.dash.Analytics = v
		a.mu.Unlock()
	}, opts...)

	a.appointments = poller.New("appointments", cfg.AppointmentsInterval, func(ctx context.Context) ([]models.Appointment, error) {
		return cfg.API.Appointments(ctx, a.clock.Now())
	}, func(v []models.Appointment) {
		sort.SliceStable(v, func(i, j int) bool {
			return scheduledBefore(v[i].ScheduledTime, v[j].ScheduledTime)
		})
		a.mu.Lock()
		a.dash.Appointments = v
		a.mu.Unlock()
	}, opts...)

	a.floor = poller.New("staff", cfg.StaffInterval, func(ctx context.Context) (floor, error) {
		staff, err := cfg.API.Staff(ctx)
		if err != nil {
			return floor{}, fmt.Errorf("staff: %w", err)
		}
		holding, err := cfg.API.HoldingPool(ctx)
		if err != nil {
			return floor{}, fmt.Errorf("holding pool: %w", err)
		}
		return floor{staff: staff, holding: holding}, nil
	}, func(v floor) {
		a.mu.Lock()
		a.dash.Staff = v.staff
		a.dash.HoldingPool = v.holding
		a.mu.Unlock()
	}, opts...)

	if cfg.DailyExportAt != "" {
		daily, err := report.NewScheduler(cfg.DailyExportAt, cfg.ExportDir, a.Dashboard, cfg.Clock, cfg.Logger)
		if err != nil {
			a.logger.Error().Err(err).Msg("daily export disabled")
		} else {
			a.daily = daily
		}
	}
	return a
}

func scheduledBefore(a, b *models.LocalTime) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return a.Before(b.Time)
}

// Dashboard returns a copy of what is currently shown.
func (a *Admin) Dashboard() report.Dashboard {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.dash
	d.GeneratedAt = a.clock.Now()
	d.Staff = append([]models.StaffMember(nil), d.Staff...)
	d.Appointments = append([]models.Appointment(nil), d.Appointments...)
	d.HoldingPool = append([]models.QueueEntry(nil), d.HoldingPool...)
	return d
}

// Run polls every source and executes dashboard commands read from in
// until in is exhausted, "quit" is read or ctx is done.
func (a *Admin) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.analytics.Start(ctx)
	defer a.analytics.Stop()
	a.appointments.Start(ctx)
	defer a.appointments.Stop()
	a.floor.Start(ctx)
	defer a.floor.Stop()
	if a.daily != nil {
		a.daily.Start()
		defer a.daily.Stop()
	}

	a.out.printf("Dashboard. Commands: show, refresh, export [dir], quit\n")
	return readCommands(ctx, in, func(cmd string, args []string) bool {
		switch cmd {
		case "quit", "exit":
			return false
		case "refresh":
			a.analytics.Refresh()
			a.appointments.Refresh()
			a.floor.Refresh()
		case "export":
			dir := a.exportDir
			if len(args) > 0 {
				dir = args[0]
			}
			a.Export(dir)
		case "show", "":
			a.Render(a.out)
		default:
			a.out.printf("unknown command %q\n", cmd)
		}
		return true
	})
}

// Export writes the current dashboard to an xlsx file in dir.
func (a *Admin) Export(dir string) (string, error) {
	path, err := report.WriteFile(dir, a.Dashboard())
	if err != nil {
		a.logger.Error().Err(err).Str("dir", dir).Msg("export failed")
		a.out.printf("export failed: %v\n", err)
		return "", err
	}
	a.logger.Info().Str("path", path).Msg("dashboard exported")
	a.out.printf("exported to %s\n", path)
	return path, nil
}

// Render writes the dashboard to w.
func (a *Admin) Render(w io.Writer) {
	d := a.Dashboard()
	var b strings.Builder

	fmt.Fprintf(&b, "== Branch dashboard %s ==\n", d.GeneratedAt.Format("15:04:05"))
	if an := d.Analytics; an != nil {
		fmt.Fprintf(&b, "avg wait: %s  avg service: %s  transactions: %d\n",
			minutes(an.AvgWaitTime), minutes(an.AvgServiceTime), an.TotalTransactions)
		statuses := make([]string, 0, len(an.QueueStatus))
		for status, n := range an.QueueStatus {
			statuses = append(statuses, fmt.Sprintf("%s=%d", status, n))
		}
		sort.Strings(statuses)
		fmt.Fprintf(&b, "queue: %s\n", strings.Join(statuses, " "))
	} else {
		b.WriteString("analytics: loading...\n")
	}

	b.WriteString("-- staff --\n")
	for _, m := range d.Staff {
		state := "available"
		if !m.IsAvailable {
			state = "busy"
		}
		fmt.Fprintf(&b, "counter %d  %-16s %-9s efficiency %.2f\n", m.CounterNumber, m.Name, state, m.EfficiencyScore)
	}

	fmt.Fprintf(&b, "-- appointments today (%d) --\n", len(d.Appointments))
	for _, ap := range d.Appointments {
		at := "--:--"
		if ap.ScheduledTime != nil {
			at = ap.ScheduledTime.Format("15:04")
		}
		fmt.Fprintf(&b, "%s  %-6s %-18s %s\n", at, ap.TokenNumber, displayService(ap.ServiceType), ap.Status)
	}

	fmt.Fprintf(&b, "-- holding pool (%d) --\n", len(d.HoldingPool))
	for _, e := range d.HoldingPool {
		fmt.Fprintf(&b, "%-6s %-16s %s\n", e.TokenNumber, e.Name(), displayService(e.ServiceType))
	}
	_, _ = io.WriteString(w, b.String())
}

func minutes(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f min", *v)
}
