package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/internal/jobs"
	"github.com/sells-group/dupe-finder/internal/model"
)

var (
	jobProductID string
	jobDupeIDs   []string
)

// jobRequest builds a request from the --product and --dupe flags. Names
// are read from the store by the jobs themselves.
func jobRequest() model.JobRequest {
	return model.JobRequest{OriginalProductID: jobProductID, DupeProductIDs: jobDupeIDs}
}

var populateCmd = &cobra.Command{
	Use:       "populate <ingredients|reviews|resources|brands|all>",
	Short:     "Run a background population job for a stored product",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"ingredients", "reviews", "resources", "brands", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := jobs.Kinds
		if args[0] != "all" {
			kind, err := jobs.ParseKind(args[0])
			if err != nil {
				return err
			}
			kinds = []jobs.Kind{kind}
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "jobs")
		if err != nil {
			return err
		}
		defer env.Close()

		var failed int
		for _, kind := range kinds {
			if err := env.Runner.Run(ctx, kind, jobRequest()); err != nil {
				failed++
				continue
			}
			zap.L().Info("populate complete", zap.String("job", string(kind)), zap.String("product_id", jobProductID))
		}
		if failed > 0 {
			return eris.Errorf("%d of %d jobs failed", failed, len(kinds))
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Re-run detailed analysis and reconciliation for a stored product",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Search.AnalyzeExisting(ctx, jobRequest()); err != nil {
			return err
		}
		zap.L().Info("analysis complete", zap.String("product_id", jobProductID))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{populateCmd, analyzeCmd} {
		c.Flags().StringVar(&jobProductID, "product", "", "original product id")
		c.Flags().StringSliceVar(&jobDupeIDs, "dupe", nil, "dupe product id (repeatable)")
		_ = c.MarkFlagRequired("product")
		rootCmd.AddCommand(c)
	}
}
