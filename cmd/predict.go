package main

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finrisk/internal/prediction"
)

var (
	predictStocks      []string
	predictKinds       []string
	predictConcurrency int
)

var predictKindNames = []string{"prediction", "health", "signals", "comment"}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Cache AI predictions, health scores, signals and comments",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("predict"); err != nil {
			return err
		}
		for _, k := range predictKinds {
			if !slices.Contains(predictKindNames, k) {
				return eris.Errorf("unknown --only value %q (want one of %v)", k, predictKindNames)
			}
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		svc := prediction.NewService(newAIClient(cfg.AI), env.Companies, env.ReportSvc, env.Reports, env.RiskStore)
		stored, misses, err := runPredictions(ctx, svc, predictStocks, predictKinds, predictConcurrency)
		if err != nil {
			return err
		}
		zap.L().Info("predict complete",
			zap.Int("stocks", len(predictStocks)),
			zap.Int64("stored", stored),
			zap.Int64("cache_misses", misses),
		)
		return nil
	},
}

type ensurer interface {
	EnsurePredictionCached(ctx context.Context, stockCode string) (prediction.Outcome, error)
	EnsureHealthScoreCached(ctx context.Context, stockCode string) (prediction.Outcome, error)
	EnsureSignalsCached(ctx context.Context, stockCode string) (prediction.Outcome, error)
	EnsureCommentCached(ctx context.Context, stockCode string) (prediction.Outcome, error)
}

// runPredictions runs the selected ensure calls for every stock, at most
// concurrency stocks at a time. An empty kinds list runs all of them.
func runPredictions(ctx context.Context, svc ensurer, stocks, kinds []string, concurrency int) (stored, misses int64, err error) {
	if len(kinds) == 0 {
		kinds = predictKindNames
	}
	if concurrency < 1 {
		concurrency = 1
	}
	calls := map[string]func(context.Context, string) (prediction.Outcome, error){
		"prediction": svc.EnsurePredictionCached,
		"health":     svc.EnsureHealthScoreCached,
		"signals":    svc.EnsureSignalsCached,
		"comment":    svc.EnsureCommentCached,
	}

	var storedN, missN atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, stock := range stocks {
		g.Go(func() error {
			for _, k := range kinds {
				out, err := calls[k](gctx, stock)
				if err != nil {
					return eris.Wrapf(err, "predict %s %s", k, stock)
				}
				storedN.Add(int64(out.Stored))
				if out.CacheMiss {
					missN.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return storedN.Load(), missN.Load(), err
	}
	return storedN.Load(), missN.Load(), nil
}

func init() {
	predictCmd.Flags().StringSliceVar(&predictStocks, "stock", nil, "stock codes (required, repeatable or comma separated)")
	predictCmd.Flags().StringSliceVar(&predictKinds, "only", nil, "subset of prediction,health,signals,comment")
	predictCmd.Flags().IntVar(&predictConcurrency, "concurrency", 4, "stocks processed in parallel")
	_ = predictCmd.MarkFlagRequired("stock")
	rootCmd.AddCommand(predictCmd)
}
