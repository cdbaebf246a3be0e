package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brk3/habitd/pkg/habit"
	"github.com/spf13/cobra"
)

// habitFlags are the editable attributes of a habit shared by track and edit.
type habitFlags struct {
	color    string
	weekdays []string
	end      string
	at       []string
}

func (f *habitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.color, "color", string(habit.ColorGreen), "habit color: green, blue, red, purple or orange")
	cmd.Flags().StringSliceVar(&f.weekdays, "weekdays", nil, "tracked weekdays, e.g. mon,wed,fri (default every day)")
	cmd.Flags().StringVar(&f.end, "end", "", `last tracked day as YYYY-MM-DD, or "none"`)
	cmd.Flags().StringArrayVar(&f.at, "at", nil, `reminder time as HH:MM, repeatable, or "none"`)
}

// apply copies the flags reported as changed onto h.
func (f *habitFlags) apply(changed func(name string) bool, h *habit.Habit) error {
	if changed("color") {
		h.Color = habit.Color(strings.ToLower(f.color))
	}
	if changed("weekdays") {
		wds, err := parseWeekdays(f.weekdays)
		if err != nil {
			return err
		}
		h.Weekdays = wds
	}
	if changed("end") {
		switch f.end {
		case "", "none":
			h.EndDate = nil
		default:
			d, err := habit.ParseDate(f.end)
			if err != nil {
				return err
			}
			h.EndDate = &d
		}
	}
	if changed("at") {
		h.FireTimes = nil
		for _, s := range f.at {
			if s == "none" {
				continue
			}
			ft, err := parseFireTime(s)
			if err != nil {
				return err
			}
			h.FireTimes = append(h.FireTimes, ft)
		}
	}
	return nil
}

var weekdayNames = map[string]time.Weekday{}

func init() {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		weekdayNames[name] = wd
		weekdayNames[name[:3]] = wd
		weekdayNames[strconv.Itoa(int(wd))] = wd
	}
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		wd, ok := weekdayNames[n]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, wd)
	}
	return out, nil
}

func parseFireTime(s string) (habit.FireTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return habit.FireTime{}, fmt.Errorf("invalid reminder time %q: want HH:MM", s)
	}
	return habit.FireTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}
