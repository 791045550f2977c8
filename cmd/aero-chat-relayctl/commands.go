package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

const metricPrefix = "aero_chat_relay_"

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check liveness and readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := opts.client()
			if _, err := c.get(cmd.Context(), "/healthz", nil); err != nil {
				return fmt.Errorf("healthz: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthz: ok")

			if _, err := c.get(cmd.Context(), "/readyz", nil); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "readyz: not ready")
				return fmt.Errorf("readyz: %w", err)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "readyz: ready")
			return err
		},
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the relay's build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var build struct {
				Commit    string `json:"commit"`
				BuildTime string `json:"buildTime"`
			}
			if err := opts.client().getJSON(cmd.Context(), "/version", nil, &build); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), build)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\nbuild time: %s\n", orDash(build.Commit), orDash(build.BuildTime))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newICECmd(opts *rootOptions) *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "ice",
		Short: "Print the ICE servers handed to call peers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			header := http.Header{}
			if origin != "" {
				header.Set("Origin", origin)
			}
			var payload json.RawMessage
			if err := opts.client().getJSON(cmd.Context(), "/webrtc/ice", header, &payload); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), payload)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "send this Origin header")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print relay counters and gauges from /metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := opts.client().get(cmd.Context(), "/metrics", nil)
			if err != nil {
				return err
			}
			rows, err := relayStats(bytes.NewReader(body))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\n", r.name, formatValue(r.value))
			}
			return tw.Flush()
		},
	}
}

type statRow struct {
	name  string
	value float64
}

// relayStats flattens the relay's own metric families. Event counters are
// listed by their event label.
func relayStats(r io.Reader) ([]statRow, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	var rows []statRow
	for name, mf := range families {
		if !strings.HasPrefix(name, metricPrefix) {
			continue
		}
		short := strings.TrimPrefix(name, metricPrefix)
		for _, m := range mf.GetMetric() {
			rowName := short
			if ev := labelValue(m, "event"); ev != "" {
				rowName = ev
			}
			rows = append(rows, statRow{name: rowName, value: sampleValue(mf.GetType(), m)})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	return rows, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return m.GetUntyped().GetValue()
	}
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

type historyEntry struct {
	ID     string `json:"id"`
	Caller struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"caller"`
	Callee struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"callee"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		token  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List call history for the account behind a JWT",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = envOr(envToken, "")
			}
			if token == "" {
				return errors.New("a token is required (--token or " + envToken + ")")
			}
			header := http.Header{}
			header.Set("X-Auth-Token", token)

			var entries []historyEntry
			if err := opts.client().getJSON(cmd.Context(), "/api/calls/history", header, &entries); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no calls")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tCALLER\tCALLEE\tSTATUS\tDURATION")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.StartTime.UTC().Format(time.RFC3339),
					e.Caller.Username,
					e.Callee.Username,
					e.Status,
					duration(e.StartTime, e.EndTime),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "JWT sent as x-auth-token (env "+envToken+")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func duration(start time.Time, end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Sub(start).Round(time.Second).String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
