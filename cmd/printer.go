package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/brk3/habitd/pkg/habit"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
)

var habitColors = map[habit.Color]color.Attribute{
	habit.ColorGreen:  color.FgGreen,
	habit.ColorBlue:   color.FgBlue,
	habit.ColorRed:    color.FgRed,
	habit.ColorPurple: color.FgMagenta,
	habit.ColorOrange: color.FgYellow,
}

func colorName(h habit.Habit) string {
	attr, ok := habitColors[h.Color]
	if !ok {
		return h.Name
	}
	return color.New(attr, color.Bold).Sprint(h.Name)
}

func formatWeekdays(h habit.Habit) string {
	if len(h.Weekdays) == 0 {
		return "every day"
	}
	names := make([]string, 0, len(h.Weekdays))
	for _, wd := range h.Weekdays {
		names = append(names, wd.String()[:3])
	}
	return strings.Join(names, ",")
}

func formatFireTimes(h habit.Habit) string {
	if len(h.FireTimes) == 0 {
		return "-"
	}
	times := make([]string, 0, len(h.FireTimes))
	for _, ft := range h.FireTimes {
		times = append(times, fmt.Sprintf("%02d:%02d", ft.Hour, ft.Minute))
	}
	return strings.Join(times, ",")
}

func formatDate(d *habit.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func printHabits(w io.Writer, habits []habit.Habit) {
	if len(habits) == 0 {
		fmt.Fprintln(w, "No habits tracked yet")
		return
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow("ID", "NAME", "DAYS", "REMINDERS", "STARTED", "ENDS")
	for _, h := range habits {
		tbl.AddRow(h.ID, colorName(h), formatWeekdays(h), formatFireTimes(h), h.StartDate, formatDate(h.EndDate))
	}
	fmt.Fprintln(w, tbl)
}

func printSummary(w io.Writer, s habit.HabitSummary) {
	title := color.New(color.Bold, color.Underline)
	faint := color.New(color.Faint)

	fmt.Fprintln(w, title.Sprint(s.Name))
	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow("Done:", fmt.Sprintf("%d of %d days (%.0f%%)", s.ExecutedCount, s.TotalCount, s.ExecutionPercentage))
	tbl.AddRow("Current streak:", streak(s.CurrentStreak))
	tbl.AddRow("Longest streak:", streak(s.LongestStreak))
	tbl.AddRow("First tracked:", formatDate(s.FirstTracked))
	tbl.AddRow("Last done:", formatDate(s.LastExecuted))
	tbl.AddRow("Pending reminders:", faint.Sprint(s.PendingNotifications))
	fmt.Fprintln(w, tbl)
}

func streak(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func printDay(w io.Writer, name string, d habit.HabitDay) {
	if d.WasExecuted {
		fmt.Fprintf(w, "%s %s done on %s\n", color.GreenString("✓"), name, d.Day)
		return
	}
	fmt.Fprintf(w, "%s %s not done on %s\n", color.RedString("✗"), name, d.Day)
}
