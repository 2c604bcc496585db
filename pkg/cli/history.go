package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/touchflow/pkg/core"
	"github.com/devicelab-dev/touchflow/pkg/history"
)

var historyCommand = &cli.Command{
	Name:  "history",
	Usage: "Show recorded runs",
	Description: `List runs recorded with run --history or run --schedule.

Examples:
  touchflow history
  touchflow history --limit 5 --flows
  touchflow history --stats --limit 50`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Usage: "History database (default from config: <home>/history.db)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Number of most recent runs to show or aggregate",
			Value: 10,
		},
		&cli.BoolFlag{
			Name:  "flows",
			Usage: "List the flows of each run",
		},
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Show per-flow pass/fail counts instead of runs",
		},
	},
	Action: runHistory,
}

func runHistory(c *cli.Context) error {
	if c.Int("limit") <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	path := cfg.HistoryPath()
	if c.IsSet("db") {
		path = c.String("db")
	}

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Bool("stats") {
		return printStats(c, store)
	}

	runs, err := store.Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(c.App.Writer, "  No runs recorded in %s\n", path)
		return nil
	}

	for _, r := range runs {
		statusColor := color(colorGreen)
		if r.Status != core.StatusPassed {
			statusColor = color(colorRed)
		}
		fmt.Fprintf(c.App.Writer, "  %s%-8s%s %s  %s%s%s  %d/%d passed, %s, %s\n",
			statusColor, r.Status, color(colorReset),
			r.ID, color(colorGray), humanize.Time(r.StartedAt), color(colorReset),
			r.Passed, r.Total, r.Driver, formatDuration(r.Duration))

		if !c.Bool("flows") {
			continue
		}
		flows, err := store.Flows(c.Context, r.ID)
		if err != nil {
			return err
		}
		for _, f := range flows {
			fmt.Fprintf(c.App.Writer, "      %-8s %s (%s)\n", f.Status, f.Name, formatDuration(f.Duration))
			if f.Error != "" {
				fmt.Fprintf(c.App.Writer, "        %s╰─%s %s\n", color(colorGray), color(colorReset), f.Error)
			}
		}
	}
	return nil
}

func printStats(c *cli.Context, store *history.Store) error {
	stats, err := store.Stats(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintln(c.App.Writer, "  No runs recorded")
		return nil
	}

	fmt.Fprintf(c.App.Writer, "  %-42s %5s %5s %5s %6s  %s\n", "Flow", "Runs", "Pass", "Fail", "Fail%", "Last run")
	fmt.Fprintln(c.App.Writer, "  "+strings.Repeat("─", 80))
	for _, st := range stats {
		name := st.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}
		fmt.Fprintf(c.App.Writer, "  %-42s %5d %5d %5d %5.0f%%  %s\n",
			name, st.Runs, st.Passed, st.Failed, st.FailureRate()*100, humanize.Time(st.LastRun))
	}
	return nil
}
