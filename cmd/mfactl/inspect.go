package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	mfaprom "github.com/MrEthical07/goMFA/metrics/export/prometheus"
	"github.com/MrEthical07/goMFA/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRangeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Manage whitelist and blacklist network ranges",
	}

	var kind, desc string
	add := &cobra.Command{
		Use:   "add <cidr>",
		Short: "Add a network range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.engine.AddRange(a.ctx(cmd), args[0], goMFA.RangeKind(kind), desc)
			if err != nil {
				return err
			}
			a.printf("%s %s %s\n", r.ID, r.Kind, r.CIDR)
			return nil
		},
	}
	add.Flags().StringVar(&kind, "kind", string(goMFA.RangeWhitelist), "whitelist or blacklist")
	add.Flags().StringVar(&desc, "desc", "", "free-form description")

	cmd.AddCommand(
		add,
		&cobra.Command{
			Use:     "rm <range-id>",
			Aliases: []string{"remove"},
			Short:   "Remove a network range",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.engine.RemoveRange(a.ctx(cmd), args[0]); err != nil {
					return err
				}
				a.printf("removed %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "toggle <range-id>",
			Short: "Flip a range between enabled and disabled",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				enabled, err := a.engine.ToggleRange(a.ctx(cmd), args[0])
				if err != nil {
					return err
				}
				a.printf("%s enabled=%t\n", args[0], enabled)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List every range, enabled or not",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ranges, err := a.engine.ListRanges(a.ctx(cmd))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tCIDR\tENABLED\tDESCRIPTION")
				for _, r := range ranges {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.ID, r.Kind, r.CIDR, r.Enabled, r.Description)
				}
				return tw.Flush()
			},
		},
	)
	return cmd
}

func newOriginCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "origin",
		Short: "Evaluate request origins against the network ranges",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <user-id> <ip>",
		Short: "Decide whether an origin may proceed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.engine.CheckOrigin(a.ctx(cmd), args[0], args[1])
			if err != nil {
				return err
			}
			verdict := "allow"
			if !d.Allowed {
				verdict = "deny"
			}
			a.printf("%s: %s", verdict, d.Reason)
			if d.RangeID != "" {
				a.printf(" (range %s)", d.RangeID)
			}
			a.printf("\n")
			return nil
		},
	})
	return cmd
}

var allFactors = []goMFA.Factor{
	goMFA.FactorTOTP,
	goMFA.FactorSMS,
	goMFA.FactorEmail,
	goMFA.FactorBackup,
	goMFA.FactorNetwork,
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show the user's state for every factor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FACTOR\tACTIVE\tREMAINING\tSTALE\tNEXT SEND\tLOCKED UNTIL")
			for _, f := range allFactors {
				st, err := a.engine.Status(a.ctx(cmd), args[0], f)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%s\t%s\n", f, st.HasActive, st.Remaining, st.StaleHashes, optTime(st.NextAllowedAt), optTime(st.LockedUntil))
			}
			return tw.Flush()
		},
	}
}

func optTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect persisted audit events",
	}

	var (
		user, factor string
		since        time.Duration
		limit        int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "Print audit events as JSON lines, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.AuditFilter{UserID: user, Factor: factor, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			events, err := a.store.ListAuditEvents(cmd.Context(), f)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(a.stdout)
			for _, ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
	list.Flags().StringVar(&user, "user", "", "only events for this user")
	list.Flags().StringVar(&factor, "factor", "", "only events for this factor")
	list.Flags().DurationVar(&since, "since", 0, "only events newer than this age")
	list.Flags().IntVar(&limit, "limit", 100, "maximum events (0 for all)")

	cmd.AddCommand(list)
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the security posture of the loaded configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(a.engine.SecurityReport())
		},
	}
}

func newMetricsCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Print engine metrics, or serve them on /metrics with --listen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}
			if listen == "" {
				a.printf("%s", mfaprom.NewPrometheusExporter(a.engine).Render())
				return nil
			}
			return a.serveMetrics(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to serve /metrics on")
	return cmd
}

func (a *app) serveMetrics(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(mfaprom.NewCollector(a.engine))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("serving metrics", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
