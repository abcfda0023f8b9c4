// File: cmd/fill.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot-cli/internal/analysis"
	"github.com/formpilot/formpilot-cli/internal/browser"
	"github.com/formpilot/formpilot-cli/internal/browser/humanoid"
	"github.com/formpilot/formpilot-cli/internal/extract"
	"github.com/formpilot/formpilot-cli/internal/fill"
	"github.com/formpilot/formpilot-cli/internal/llmclient"
	"github.com/formpilot/formpilot-cli/internal/observability"
	"github.com/formpilot/formpilot-cli/internal/patterncache"
)

var fillNoSubmit bool

var fillCmd = &cobra.Command{
	Use:   "fill <url>",
	Short: "Analyze the form at <url> and fill it with a generated identity.",
	Long: `Fill navigates to the target page, extracts its interactive elements,
classifies honeypot traps, asks the generative model for a fill plan (with a
deterministic fallback), verifies every selector against the live page, and
then types a generated identity into the safe fields. The session summary is
written to stdout as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runFill(ctx, cmd, args[0])
	},
}

func init() {
	fillCmd.Flags().BoolVar(&fillNoSubmit, "no-submit", false, "fill the form but never click submit")
	rootCmd.AddCommand(fillCmd)
}

func runFill(ctx context.Context, cmd *cobra.Command, url string) error {
	logger := observability.GetLogger()

	b, err := browser.Launch(ctx, appConfig, logger)
	if err != nil {
		return fmt.Errorf("browser launch failed: %w", err)
	}
	defer b.Close()

	delays := humanoid.FromConfig(appConfig.Humanoid)
	session, err := b.NewSession(delays)
	if err != nil {
		return fmt.Errorf("session creation failed: %w", err)
	}
	defer session.Close()

	llm, err := llmclient.New(appConfig.LLM, logger)
	if err != nil {
		return err
	}

	cache, err := patterncache.New(appConfig.Cache.MaxEntries, appConfig.Cache.TTL, nil)
	if err != nil {
		return fmt.Errorf("pattern cache setup failed: %w", err)
	}

	state, err := extract.New(session, logger).Extract(ctx, url)
	if err != nil {
		return err
	}

	analyzer := analysis.NewAnalyzer(analysis.Options{
		Client:          llm,
		Session:         session,
		Cache:           cache,
		ExcerptMaxChars: appConfig.Analysis.ExcerptMaxChars,
		FallbackCap:     appConfig.Analysis.FallbackConfidence,
		MaxOutputTokens: appConfig.LLM.MaxOutputTokens,
		Temperature:     appConfig.LLM.Temperature,
	}, logger)

	result, err := analyzer.Analyze(ctx, state)
	if err != nil {
		return err
	}

	data, err := fill.GenerateUserData(appConfig.Fill.EmailDomain)
	if err != nil {
		return fmt.Errorf("identity generation failed: %w", err)
	}

	fillCfg := appConfig.Fill
	if fillNoSubmit {
		fillCfg.Submit = false
	}

	summary, execErr := fill.NewExecutor(session, delays, fillCfg, logger).Execute(ctx, result, data)

	// The summary is valid even on error; emit whatever was recorded.
	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("summary encoding failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	if execErr != nil {
		return execErr
	}
	logger.Info("Fill session complete.",
		zap.String("url", url),
		zap.Bool("success", summary.Success),
		zap.Bool("submitted", summary.Submitted))
	return nil
}
