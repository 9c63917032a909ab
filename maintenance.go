package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Muhammad-Fauzan22/gatemate-iot/store"
)

// Maintenance commands act on the state directory directly and are meant
// for a stopped controller. A running controller takes the same requests
// over the event pipe or the message bus.

type storeStatus struct {
	SafeMode            bool               `json:"safeMode"`
	SafeModeReason      string             `json:"safeModeReason,omitempty"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	Position            *int               `json:"position,omitempty"`
	Thresholds          thresholdsView     `json:"thresholds"`
	LastEvent           *store.EventRecord `json:"lastEvent,omitempty"`
}

type thresholdsView struct {
	MaxOperationTime   string  `json:"maxOperationTime"`
	MaxCurrent         float64 `json:"maxCurrent"`
	MaxTemperature     float64 `json:"maxTemperature"`
	WarningTemperature float64 `json:"warningTemperature"`
}

func viewThresholds(t store.Thresholds) thresholdsView {
	return thresholdsView{
		MaxOperationTime:   t.MaxOperationDuration.String(),
		MaxCurrent:         t.MaxCurrent,
		MaxTemperature:     t.MaxTemperature,
		WarningTemperature: t.WarningTemperature,
	}
}

func collectStatus(st *store.Store) storeStatus {
	l := st.Ledger()
	s := storeStatus{
		SafeMode:            l.SafeMode,
		SafeModeReason:      l.SafeModeReason,
		ConsecutiveFailures: l.ConsecutiveFailures,
		Thresholds:          viewThresholds(st.Thresholds()),
	}
	if pos, ok := st.Position(); ok {
		s.Position = &pos
	}
	if evs := st.Events(); len(evs) > 0 {
		s.LastEvent = &evs[len(evs)-1]
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printStatus(w io.Writer, st *store.Store, asJSON bool) error {
	s := collectStatus(st)
	if asJSON {
		return writeJSON(w, s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if s.SafeMode {
		fmt.Fprintf(tw, "Safe mode:\tON (%s)\n", s.SafeModeReason)
	} else {
		fmt.Fprintf(tw, "Safe mode:\toff\n")
	}
	fmt.Fprintf(tw, "Consecutive failures:\t%d\n", s.ConsecutiveFailures)
	if s.Position != nil {
		fmt.Fprintf(tw, "Position:\t%d%%\n", *s.Position)
	} else {
		fmt.Fprintf(tw, "Position:\tunknown\n")
	}
	if s.LastEvent != nil {
		fmt.Fprintf(tw, "Last event:\t%s %s: %s\n", s.LastEvent.At.Format(time.RFC3339), s.LastEvent.Kind, s.LastEvent.Message)
	}
	tw.Flush()
	return printThresholds(w, st, false)
}

func printThresholds(w io.Writer, st *store.Store, asJSON bool) error {
	v := viewThresholds(st.Thresholds())
	if asJSON {
		return writeJSON(w, v)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", store.KeyMaxOperationTime, v.MaxOperationTime)
	fmt.Fprintf(tw, "%s\t%.2f A\n", store.KeyMaxCurrent, v.MaxCurrent)
	fmt.Fprintf(tw, "%s\t%.1f °C\n", store.KeyMaxTemperature, v.MaxTemperature)
	fmt.Fprintf(tw, "warningTemperature\t%.1f °C (config only)\n", v.WarningTemperature)
	return tw.Flush()
}

func printEvents(w io.Writer, st *store.Store, limit int, asJSON bool) error {
	evs := st.Events()
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	if asJSON {
		if evs == nil {
			evs = []store.EventRecord{}
		}
		return writeJSON(w, evs)
	}
	if len(evs) == 0 {
		_, err := fmt.Fprintln(w, "No safety events recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range evs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Seq, e.At.Format(time.RFC3339), e.Kind, e.Message)
	}
	return tw.Flush()
}

// withStore opens the store for a maintenance command.
func withStore(fn func(cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		return fn(cmd, st, args)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted safety state",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		return printStatus(cmd.OutOrStdout(), st, jsonOutput)
	}),
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show the safety thresholds",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		return printThresholds(cmd.OutOrStdout(), st, jsonOutput)
	}),
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Persist a safety threshold (maxOperationTime, maxCurrent, maxTemperature)",
	Args:  cobra.ExactArgs(2),
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		if err := st.SetThreshold(args[0], args[1]); err != nil {
			return err
		}
		logger.WithField("name", args[0]).WithField("value", args[1]).Info("Threshold updated")
		return printThresholds(cmd.OutOrStdout(), st, jsonOutput)
	}),
}

var safeModeCmd = &cobra.Command{
	Use:   "safe-mode",
	Short: "Enter or leave the safe-mode lockout",
}

var safeModeEnterCmd = &cobra.Command{
	Use:   "enter [reason...]",
	Short: "Lock the controller out of all motion",
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		reason := strings.Join(args, " ")
		if reason == "" {
			reason = "Entered manually"
		}
		if err := st.EnterSafeMode(reason); err != nil {
			return fmt.Errorf("enter safe mode: %w", err)
		}
		if err := st.AppendEvent("safe_mode", reason, time.Now()); err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		logger.WithField("reason", reason).Warn("Safe mode entered")
		return nil
	}),
}

var safeModeExitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Clear the lockout and the failure counter",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		if !st.InSafeMode() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not in safe mode")
			return nil
		}
		if err := st.ExitSafeMode(); err != nil {
			return fmt.Errorf("exit safe mode: %w", err)
		}
		logger.Info("Safe mode cleared")
		return nil
	}),
}

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded safety events, oldest first",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
		return printEvents(cmd.OutOrStdout(), st, eventsLimit, jsonOutput)
	}),
}

func addMaintenanceCommands(root *cobra.Command) {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 0, "show only the last n events")

	thresholdsCmd.AddCommand(thresholdsSetCmd)
	safeModeCmd.AddCommand(safeModeEnterCmd, safeModeExitCmd)

	for _, c := range []*cobra.Command{statusCmd, thresholdsCmd, safeModeCmd, eventsCmd} {
		c.GroupID = "maintenance"
		root.AddCommand(c)
	}
}
