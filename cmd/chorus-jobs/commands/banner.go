package commands

import (
	"fmt"

	"github.com/pterm/pterm"

	"github.com/chorus/jobs/am"
	"github.com/chorus/jobs/sym"
	"github.com/chorus/jobs/version"
)

// printStartupBanner prints what the daemon is about to do
func printStartupBanner(cfg *am.Config) {
	info := version.Get()

	pterm.Println()
	pterm.Printf("%s %s\n\n", pterm.LightCyan(sym.PulseOpen), pterm.LightCyan(info.String()))

	ticker := "disabled"
	if cfg.TickerInterval() > 0 {
		ticker = cfg.TickerInterval().String()
	}
	dispatchTo := cfg.Dispatch.Backend
	if dispatchTo == am.BackendKafka {
		dispatchTo = fmt.Sprintf("kafka (%s → %s)", cfg.Dispatch.Kafka.Brokers, cfg.Dispatch.Kafka.Topic)
	}

	rows := [][2]string{
		{"API", fmt.Sprintf("http://localhost:%d", cfg.GetServerPort())},
		{"Database", cfg.GetDatabasePath()},
		{"Workers", fmt.Sprint(cfg.Worker.Workers)},
		{"Ticker", ticker},
		{"Dispatch", dispatchTo},
		{"Time zone", cfg.Scheduler.DefaultTimeZone},
	}
	for _, row := range rows {
		pterm.Printf("  %s %s\n", pterm.Gray(fmt.Sprintf("%-10s", row[0])), row[1])
	}

	pterm.Printf("\n%s Press Ctrl+C to stop\n\n", pterm.Green(sym.Pulse))
}
