// Package report exports the manager dashboard to an Excel workbook.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"daso/internal/models"
)

// Dashboard is everything the admin view shows at one moment.
type Dashboard struct {
	GeneratedAt  time.Time
	Analytics    *models.Analytics
	Staff        []models.StaffMember
	Appointments []models.Appointment
	HoldingPool  []models.QueueEntry
}

// Sheet names, in workbook order.
const (
	SheetSummary      = "Summary"
	SheetStaff        = "Staff"
	SheetHourlyLoad   = "Hourly load"
	SheetAppointments = "Appointments"
	SheetHoldingPool  = "Holding pool"
)

// Filename names the export of a given moment, e.g. daso_2026-10-18_1530.xlsx.
func Filename(t time.Time) string {
	return fmt.Sprintf("daso_%s.xlsx", t.Format("2006-01-02_1504"))
}

// Write renders d as xlsx into out.
func Write(out io.Writer, d Dashboard) error {
	wb := newWorkbook()
	defer wb.close()

	steps := []func(*workbook, Dashboard) error{
		writeSummary,
		writeStaff,
		writeHourlyLoad,
		writeAppointments,
		writeHoldingPool,
	}
	for _, step := range steps {
		if err := step(wb, d); err != nil {
			return err
		}
	}
	return wb.save(out)
}

// WriteFile writes the export into dir and returns its path.
func WriteFile(dir string, d Dashboard) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, Filename(d.GeneratedAt))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(f, d); err != nil {
		f.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, f.Close()
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func localTime(t *models.LocalTime) any {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func writeSummary(wb *workbook, d Dashboard) error {
	if err := wb.addSheet(SheetSummary); err != nil {
		return err
	}
	if err := wb.writeHeader("Metric", "Value"); err != nil {
		return err
	}
	if err := wb.writeRow("Generated at", d.GeneratedAt.Format("2006-01-02 15:04:05")); err != nil {
		return err
	}
	a := d.Analytics
	if a == nil {
		return nil
	}
	rows := [][]any{
		{"Average wait (min)", optional(a.AvgWaitTime)},
		{"Average service (min)", optional(a.AvgServiceTime)},
		{"Transactions today", a.TotalTransactions},
	}
	statuses := make([]string, 0, len(a.QueueStatus))
	for s := range a.QueueStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		rows = append(rows, []any{"Queue: " + s, a.QueueStatus[s]})
	}
	for _, r := range rows {
		if err := wb.writeRow(r...); err != nil {
			return err
		}
	}
	return nil
}

func writeStaff(wb *workbook, d Dashboard) error {
	if err := wb.addSheet(SheetStaff); err != nil {
		return err
	}
	if err := wb.writeHeader("Name", "Counter", "Efficiency", "Transactions", "Avg duration", "Avg predicted", "Status"); err != nil {
		return err
	}
	status := make(map[int]string, len(d.Staff))
	for _, s := range d.Staff {
		status[s.CounterNumber] = s.Status
	}
	if d.Analytics == nil {
		return nil
	}
	for _, p := range d.Analytics.StaffPerformance {
		err := wb.writeRow(p.Name, p.CounterNumber, p.EfficiencyScore, p.Transactions,
			optional(p.AvgDuration), optional(p.AvgPredicted), status[p.CounterNumber])
		if err != nil {
			return err
		}
	}
	return nil
}

func writeHourlyLoad(wb *workbook, d Dashboard) error {
	if err := wb.addSheet(SheetHourlyLoad); err != nil {
		return err
	}
	if err := wb.writeHeader("Hour", "Load"); err != nil {
		return err
	}
	if d.Analytics == nil {
		return nil
	}
	for _, h := range d.Analytics.HourlyLoad {
		if err := wb.writeRow(fmt.Sprintf("%02d:00", h.Hour), h.Load); err != nil {
			return err
		}
	}
	return nil
}

func writeAppointments(wb *workbook, d Dashboard) error {
	if err := wb.addSheet(SheetAppointments); err != nil {
		return err
	}
	if err := wb.writeHeader("Token", "Customer", "Service", "Status", "Scheduled"); err != nil {
		return err
	}
	for _, a := range d.Appointments {
		if err := wb.writeRow(a.TokenNumber, a.CustomerName, a.ServiceType, string(a.Status), localTime(a.ScheduledTime)); err != nil {
			return err
		}
	}
	return nil
}

func writeHoldingPool(wb *workbook, d Dashboard) error {
	if err := wb.addSheet(SheetHoldingPool); err != nil {
		return err
	}
	if err := wb.writeHeader("Token", "Customer", "Mobile", "Service", "Scheduled"); err != nil {
		return err
	}
	for _, e := range d.HoldingPool {
		if err := wb.writeRow(e.TokenNumber, e.Name(), e.Mobile, e.ServiceType, localTime(e.ScheduledTime)); err != nil {
			return err
		}
	}
	return nil
}
