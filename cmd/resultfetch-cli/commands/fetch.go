package commands

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"resultfetch/cmd/resultfetch-cli/utils"
	"resultfetch/lib/configutil"
	"resultfetch/lib/ocrpool"
	"resultfetch/lib/resultstore"
	"resultfetch/lib/restyutil"
	"resultfetch/lib/scrapers/oneview"
	"resultfetch/lib/serviceutil"
	"resultfetch/services/fetcher"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseUrl string `json:"base_url"`
}

var (
	fetchFrom        *string
	fetchTo          *string
	fetchPrefix      *string
	fetchSemester    *string
	fetchConcurrency *int
	fetchPoolSize    *int
	fetchAttempts    *int
	fetchForce       *bool
	fetchDb          *string
	fetchHttpDump    *string
)

func init() {
	fetchFrom = fetchCmd.Flags().String("from", "", "First roll number suffix of the range (inclusive).")
	fetchTo = fetchCmd.Flags().String("to", "", "Last roll number suffix of the range (inclusive).")
	fetchPrefix = fetchCmd.Flags().String("prefix", "", "Prefix prepended to every roll number in the range.")
	fetchSemester = fetchCmd.Flags().String("semester", "", "Semester to fetch results for.")
	fetchConcurrency = fetchCmd.Flags().Int("concurrency", 4, "Concurrently running pipelines.")
	fetchPoolSize = fetchCmd.Flags().Int("pool", 4, "Number of ocr engines to keep warm.")
	fetchAttempts = fetchCmd.Flags().Int("attempts", 3, "Attempts per roll number before giving up.")
	fetchForce = fetchCmd.Flags().Bool("force", false, "Refetch roll numbers that already have a cached result.")
	fetchDb = fetchCmd.Flags().String("db", "results.db", "The database to cache results in.")
	fetchHttpDump = fetchCmd.Flags().String("http-dump", "", "Directory to dump http traffic to, disabled when empty.")
	rootCmd.AddCommand(fetchCmd)
}

// rollRange expands prefix + [from, to] into concrete roll numbers,
// preserving the zero padding of `from`.
func rollRange(prefix, from, to string) ([]string, error) {
	start, err := strconv.Atoi(from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	end, err := strconv.Atoi(to)
	if err != nil {
		return nil, fmt.Errorf("invalid --to %q: %w", to, err)
	}
	if end < start {
		return nil, fmt.Errorf("--to %q is below --from %q", to, from)
	}

	width := len(from)
	var out []string
	for i := start; i <= end; i++ {
		out = append(out, fmt.Sprintf("%s%0*d", prefix, width, i))
	}
	return out, nil
}

func resolveRollNos(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if *fetchFrom == "" || *fetchTo == "" {
		return nil, fmt.Errorf("provide roll numbers as arguments or use --from/--to")
	}
	return rollRange(*fetchPrefix, *fetchFrom, *fetchTo)
}

func summarize(outcomes []fetcher.RecordOutcome) {
	t := utils.NewTable()
	t.AppendHeader(table.Row{"roll no", "status", "attempts", "detail"})

	succeeded := 0
	for _, outcome := range outcomes {
		status := "failed"
		detail := ""
		switch {
		case outcome.FromCache:
			status = "cached"
			succeeded++
		case outcome.Success:
			status = "fetched"
			succeeded++
		case len(outcome.Failures) > 0:
			last := outcome.Failures[len(outcome.Failures)-1]
			detail = last.Classification
			if last.Detail != "" {
				detail = fmt.Sprintf("%s: %s", last.Classification, last.Detail)
			}
		}
		t.AppendRow(table.Row{outcome.RollNo, status, outcome.Attempts, detail})
	}
	t.AppendFooter(table.Row{"", "ok", succeeded, fmt.Sprintf("of %d", len(outcomes))})
	t.Render()
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [roll numbers...]",
	Short: "Fetches semester results for a set of roll numbers and caches them.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		rollNos, err := resolveRollNos(args)
		if err != nil {
			serviceutil.Fatal("failed to resolve roll numbers", err)
		}

		var output restyutil.InstrumentOutput
		if *fetchHttpDump != "" {
			output = restyutil.NewFilesystemOutput(*fetchHttpDump)
		}

		pool := ocrpool.New(*fetchPoolSize, nil)
		client, err := oneview.NewClient(ctx, oneview.ClientOptions{
			BaseUrl: cfg.BaseUrl,
			OCR:     pool,
			Output:  output,
		})
		if err != nil {
			serviceutil.Fatal("failed to initialize oneview client", err)
		}

		store, err := resultstore.Open(*fetchDb)
		if err != nil {
			serviceutil.Fatal("failed to open result cache", err)
		}
		defer store.Close()

		f := fetcher.New(client, pool, store, fetcher.Options{
			Semester:    *fetchSemester,
			MaxAttempts: *fetchAttempts,
			Concurrency: *fetchConcurrency,
			Force:       *fetchForce,
		})
		f.OnResult = func(outcome fetcher.RecordOutcome) {
			slog.Info(
				"record done",
				"roll_no", outcome.RollNo,
				"success", outcome.Success,
				"attempts", outcome.Attempts,
				"cached", outcome.FromCache,
			)
		}

		slog.Info("fetching results", "records", len(rollNos), "semester", *fetchSemester)
		t1 := time.Now()
		outcomes, err := f.Run(ctx, rollNos)
		t2 := time.Now()
		if err != nil {
			serviceutil.Fatal("batch run failed", err)
		}

		summarize(outcomes)

		stats := pool.Stats()
		slog.Info(
			"batch done",
			"seconds", t2.Sub(t1).Seconds(),
			"ocr_requests", stats.Requests,
			"ocr_failures", stats.Failures,
			"ocr_avg_latency", stats.AvgLatency,
		)
	},
}
