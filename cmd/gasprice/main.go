package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gregtusar/gasprice/api"
	"github.com/gregtusar/gasprice/internal/config"
	"github.com/gregtusar/gasprice/pkg/allocation"
	"github.com/gregtusar/gasprice/pkg/contracts"
	"github.com/gregtusar/gasprice/pkg/mibgas"
	"github.com/gregtusar/gasprice/pkg/models"
	"github.com/gregtusar/gasprice/pkg/pricing"
	"github.com/gregtusar/gasprice/pkg/store"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gasprice",
		Short:         "Fixed-price calculator for natural gas supply tenders",
		Long:          `Prices gas supply contracts from MIBGAS forward indices and maintains the tender spreadsheets`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err = cfg.Logging.NewLogger()
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.AddCommand(newCalcCmd(), newBatchCmd(), newQuotesCmd(), newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadDataset(path string) (*mibgas.Dataset, error) {
	if path == "" {
		path = cfg.Dataset.Path
	}
	return mibgas.Load(path, mibgas.Options{
		Sheet:      cfg.Dataset.Sheet,
		MinIndices: cfg.Dataset.MinIndices,
		Logger:     logger,
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCalcCmd() *cobra.Command {
	var (
		date     string
		duration int
		start    string
		quotes   []string
		dataFile string
	)
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Price one contract schedule",
		Example: `  gasprice calc --date 2024-04-05 --duration 24 --start 2024-06
  gasprice calc --date 2024-04-05 --duration 12 --start 2024-07 --quote GQES_Q+1=27,15 --quote GYES_Y+1=30,60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("invalid --date %q", date)
			}
			startMonth := models.DefaultStartMonth(ref)
			if start != "" {
				if startMonth, err = models.ParseMonth(start); err != nil {
					return fmt.Errorf("invalid --start %q", start)
				}
			}
			schedule := models.ContractSchedule{ReferenceDate: ref, DurationMonths: duration, StartMonth: startMonth}

			var snap *mibgas.Snapshot
			if len(quotes) > 0 {
				raw := make(map[string]string, len(quotes))
				for _, q := range quotes {
					code, value, ok := strings.Cut(q, "=")
					if !ok {
						return fmt.Errorf("invalid --quote %q, want CODE=VALUE", q)
					}
					raw[code] = value
				}
				parsed, err := models.ParseQuotes(raw)
				if err != nil {
					return err
				}
				snap = &mibgas.Snapshot{TradingDay: ref, Quotes: parsed}
			} else {
				ds, err := loadDataset(dataFile)
				if err != nil {
					return err
				}
				if snap, err = ds.QuotesOn(ref); err != nil {
					return err
				}
			}

			res, err := allocation.Allocate(schedule, snap.Quotes)
			if err != nil {
				var noQuote *allocation.NoQuoteAvailableError
				if errors.As(err, &noQuote) {
					logger.WithField("months", noQuote.Months).Error("No index available")
				}
				return err
			}
			return printJSON(map[string]interface{}{
				"schedule":    schedule,
				"trading_day": snap.TradingDay.Format("2006-01-02"),
				"price":       res.WeightedAverage.StringFixed(2),
				"allocation":  res,
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "price date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&duration, "duration", 12, "contract duration in months")
	cmd.Flags().StringVar(&start, "start", "", "first supply month (YYYY-MM), estimated from the price date when empty")
	cmd.Flags().StringArrayVar(&quotes, "quote", nil, "index quote as CODE=VALUE, repeatable; read from the dataset when absent")
	cmd.Flags().StringVar(&dataFile, "data", "", "trading data file (overrides dataset.path)")
	cmd.MarkFlagRequired("date")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		input, output, dataFile string
		workers                 int
		margins                 bool
		record                  bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Price every contract of a tender spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				input = cfg.Batch.Input
			}
			if input == "" {
				return errors.New("no input sheet, use --input or batch.input")
			}
			if output == "" {
				output = cfg.Batch.Output
			}
			if output == "" {
				output = input
			}
			if workers <= 0 {
				workers = cfg.Batch.Workers
			}

			ds, err := loadDataset(dataFile)
			if err != nil {
				return err
			}
			sheet, err := contracts.LoadSheet(input)
			if err != nil {
				return err
			}

			opts := []pricing.Option{pricing.WithWorkers(workers)}
			if record {
				history, err := store.Open(cfg.Database.Path, logger)
				if err != nil {
					return err
				}
				defer history.Close()
				opts = append(opts, pricing.WithRecorder(history))
			}
			pricer := pricing.NewPricer(ds, logger, opts...)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			outcomes, err := pricer.PriceSheet(ctx, sheet)
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				if o.Status == pricing.StatusPriced {
					continue
				}
				logger.WithFields(logrus.Fields{
					"contract_id": o.Contract.ID,
					"row":         o.Contract.Row,
					"status":      o.Status,
					"reason":      o.Reason,
				}).Warn("Contract not priced")
			}

			summary := map[string]interface{}{"pricing": pricer.Stats()}
			if margins {
				summary["profit_margins"] = contracts.ApplyProfitMargins(sheet)
				summary["competitor_margins"] = contracts.ApplyCompetitorMargins(sheet)
				summary["market"] = contracts.Summarize(sheet)
			}

			if err := sheet.Save(output); err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"output":  output,
				"workers": workers,
			}).Info("Saved tender sheet")
			return printJSON(summary)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "tender sheet (.csv)")
	cmd.Flags().StringVar(&output, "output", "", "output sheet, defaults to overwriting the input")
	cmd.Flags().StringVar(&dataFile, "data", "", "trading data file (overrides dataset.path)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent contracts (overrides batch.workers)")
	cmd.Flags().BoolVar(&margins, "margins", true, "recompute profit and competitor margins")
	cmd.Flags().BoolVar(&record, "record", false, "store priced contracts in the history database")
	return cmd
}

func newQuotesCmd() *cobra.Command {
	var date, dataFile string
	cmd := &cobra.Command{
		Use:   "quotes",
		Short: "Show the forward quotes used for a price date",
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := time.Now()
			if date != "" {
				var err error
				if ref, err = time.Parse("2006-01-02", date); err != nil {
					return fmt.Errorf("invalid --date %q", date)
				}
			}
			ds, err := loadDataset(dataFile)
			if err != nil {
				return err
			}
			snap, err := ds.QuotesOn(ref)
			if err != nil {
				return err
			}
			return printJSON(snap)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "price date (YYYY-MM-DD), today when empty")
	cmd.Flags().StringVar(&dataFile, "data", "", "trading data file (overrides dataset.path)")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pricing API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port == 0 {
				port = cfg.Server.Port
			}

			var source pricing.QuoteSource
			ds, err := loadDataset("")
			if err != nil {
				logger.WithError(err).Warn("Trading data unavailable, only inline quotes will be priced")
			} else {
				source = ds
			}

			history, err := store.Open(cfg.Database.Path, logger)
			if err != nil {
				return err
			}
			defer history.Close()

			pricer := pricing.NewPricer(source, logger,
				pricing.WithRecorder(history),
				pricing.WithWorkers(cfg.Batch.Workers))
			apiServer := api.NewServer(pricer, history, logger, strconv.Itoa(port), api.Options{
				JWTSecret:      cfg.Auth.JWTSecret,
				RateLimit:      cfg.Auth.RateLimit,
				Burst:          cfg.Auth.Burst,
				AllowedOrigins: cfg.Server.AllowedOrigins,
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- apiServer.Start()
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			logger.Info("Pricing API is running. Press Ctrl+C to stop.")

			select {
			case err := <-errCh:
				return err
			case <-sigChan:
				logger.Info("Received shutdown signal")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(ctx); err != nil {
				return err
			}
			logger.Info("Pricing API stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
