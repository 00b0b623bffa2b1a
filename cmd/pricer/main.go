// Command pricer researches used-part prices from the command line against
// the configured record store and catalog.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-pricing/engine/app"
	"github.com/WessleyAI/wessley-pricing/engine/config"
	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/engine/scheduler"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	c := &cli{out: os.Stdout, errOut: os.Stderr}
	err := c.root().ExecuteContext(ctx)
	c.close()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type cli struct {
	out    io.Writer
	errOut io.Writer

	verbose  bool
	asJSON   bool
	store    string
	vehicle  domain.Vehicle
	category string

	app *app.App
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "pricer",
		Short:        "Used vehicle part price research",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "sources" {
				return nil
			}
			return c.open(cmd.Context())
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	pf := root.PersistentFlags()
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVar(&c.asJSON, "json", false, "Print JSON instead of text")
	pf.StringVar(&c.store, "store", "", "Record store backend (memory, sqlite, postgres, redis)")

	root.AddCommand(c.researchCmd(), c.bulkCmd(), c.historyCmd(), c.refreshCmd(), c.sourcesCmd())
	return root
}

func (c *cli) vehicleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&c.vehicle.Year, "year", 0, "Vehicle model year")
	f.StringVar(&c.vehicle.Make, "make", "", "Vehicle make")
	f.StringVar(&c.vehicle.Model, "model", "", "Vehicle model")
	f.StringVar(&c.vehicle.Trim, "trim", "", "Vehicle trim")
	f.StringVar(&c.vehicle.Engine, "engine", "", "Vehicle engine")
	f.StringVar(&c.vehicle.Drivetrain, "drivetrain", "", "Vehicle drivetrain")
}

func (c *cli) open(ctx context.Context) error {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.store != "" {
		cfg.StoreBackend = c.store
	}
	// One-shot commands never need the cron refresher.
	cfg.RefreshSpec = ""
	c.app, err = app.New(ctx, cfg, log)
	return err
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close(context.Background())
	}
}

func (c *cli) researchCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "research ITEM_ID",
		Short: "Research one item now, ignoring cached analyses",
		Long:  "Research one item. Without --name the item is resolved through the catalog.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := domain.ItemQuery{ItemID: args[0], Name: name, Category: c.category, Vehicle: c.vehicle}
			if name == "" {
				it, err := c.app.Catalog.Item(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("resolve %s: %w", args[0], err)
				}
				q = it
			}
			rec, err := c.app.Orchestrator.Research(cmd.Context(), q)
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(rec)
			}
			c.printAnalysis(rec.ItemID, rec.MarketAnalysis)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Part name, e.g. \"alternator\"")
	cmd.Flags().StringVar(&c.category, "category", "", "Part category")
	c.vehicleFlags(cmd)
	return cmd
}

func (c *cli) bulkCmd() *cobra.Command {
	var (
		force bool
		items map[string]string
	)
	cmd := &cobra.Command{
		Use:   "bulk ITEM_ID...",
		Short: "Research many items of one vehicle, serving fresh analyses from cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.BulkRequest{ItemIDs: args, Vehicle: c.vehicle, ForceRefresh: force}
			if len(items) > 0 {
				req.Items = make(map[string]domain.ItemQuery, len(items))
				for id, name := range items {
					req.Items[id] = domain.ItemQuery{ItemID: id, Name: name}
				}
			}
			report, err := c.app.Bulk.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(report)
			}
			for _, r := range report.Results {
				switch {
				case !r.Success:
					fmt.Fprintf(c.out, "%-16s error   %s (%s)\n", r.ItemID, r.Error, r.ErrorKind)
				case r.Cached:
					fmt.Fprintf(c.out, "%-16s cached  %s\n", r.ItemID, r.MarketAnalysis.RecommendedPrice.StringFixed(2))
				default:
					fmt.Fprintf(c.out, "%-16s new     %s\n", r.ItemID, r.MarketAnalysis.RecommendedPrice.StringFixed(2))
				}
			}
			fmt.Fprintf(c.out, "\n%d/%d processed, %d cached, %d errors\n",
				report.Progress.Processed, report.Progress.Total, report.Progress.Cached, len(report.Errors))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore cached analyses")
	cmd.Flags().StringToStringVar(&items, "item", nil, "Item names not in the catalog, as id=name (repeatable)")
	c.vehicleFlags(cmd)
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history ITEM_ID",
		Short: "List past analyses of an item, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := c.app.Cache.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(recs)
			}
			for _, r := range recs {
				state := "superseded"
				if r.IsActive {
					state = "active"
				}
				v := r.Query.Vehicle
				fmt.Fprintf(c.out, "%s  %-10s %8s  n=%-3d %d %s %s\n",
					r.ResearchDate.Format("2006-01-02 15:04"), state,
					r.MarketAnalysis.RecommendedPrice.StringFixed(2), r.MarketAnalysis.SampleSize,
					v.Year, v.Make, v.Model)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records (0 for all)")
	return cmd
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Re-research catalog items whose analysis is stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := &scheduler.Refresher{Catalog: c.app.Catalog, Cache: c.app.Cache, Bulk: c.app.Bulk, Log: c.app.Log}
			sum, err := r.RefreshStale(cmd.Context())
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(sum)
			}
			fmt.Fprintf(c.out, "scanned %d, stale %d, refreshed %d, failed %d, skipped %d\n",
				sum.Scanned, sum.Stale, sum.Refreshed, sum.Failed, sum.Skipped)
			return nil
		},
	}
}

func (c *cli) sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured marketplace sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			for _, s := range cfg.Sources {
				state := "enabled"
				if s.Disabled {
					state = "disabled"
				}
				key := "-"
				if s.APIKeyEnv != "" {
					key = s.APIKeyEnv
					if s.APIKey() == "" {
						key += " (unset)"
					}
				}
				fmt.Fprintf(c.out, "%-10s %-9s %-32s key=%s\n", s.Name, state, s.BaseURL, key)
			}
			return nil
		},
	}
}

func (c *cli) printAnalysis(itemID string, a domain.MarketAnalysis) {
	w := c.out
	fmt.Fprintf(w, "item         %s\n", itemID)
	fmt.Fprintf(w, "sample       %d (%d outliers removed)\n", a.SampleSize, a.OutliersRemoved)
	fmt.Fprintf(w, "mean         %s\n", a.FinalMean.StringFixed(2))
	fmt.Fprintf(w, "range        %s - %s\n", a.MinPrice.StringFixed(2), a.MaxPrice.StringFixed(2))
	fmt.Fprintf(w, "recommended  %s\n", a.RecommendedPrice.StringFixed(2))
	fmt.Fprintf(w, "trend        %s\n", a.MarketTrend)
	fmt.Fprintf(w, "confidence   %d\n", a.Confidence)
	if a.AnomalyDetected {
		fmt.Fprintln(w, "anomaly      yes")
	}
	for _, s := range a.Sources {
		line := fmt.Sprintf("source       %-9s %d observations", s.Source, s.Observations)
		if s.ErrorKind != "" {
			line += " [" + s.ErrorKind + "]"
		}
		fmt.Fprintln(w, line)
	}
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
