// File: cmd/answer.go
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

	"github.com/formpilot/formpilot-cli/internal/llmclient"
	"github.com/formpilot/formpilot-cli/internal/observability"
	"github.com/formpilot/formpilot-cli/internal/survey"
)

var answerContext string

var answerCmd = &cobra.Command{
	Use:   "answer <questions.json>",
	Short: "Answer the poll questions in a JSON file like a person would.",
	Long: `Answer reads an array of survey questions from a JSON file, generates a
plausible human-like answer for each through the configured model (with
deterministic fallbacks when the model is unavailable), and writes the
answers to stdout as JSON.

Question format:
  [{"id": 1, "text": "...", "type": "yes-no|single-choice|multiple-choice|text|rating",
    "options": [{"value": "...", "label": "..."}], "required": true}]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runAnswer(ctx, cmd, args[0])
	},
}

func init() {
	answerCmd.Flags().StringVar(&answerContext, "context", "", "freeform context given to the model alongside every question")
	rootCmd.AddCommand(answerCmd)
}

func runAnswer(ctx context.Context, cmd *cobra.Command, path string) error {
	logger := observability.GetLogger()

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading questions file: %w", err)
	}

	var questions []survey.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return fmt.Errorf("questions file is not a JSON array of questions: %w", err)
	}
	if len(questions) == 0 {
		return fmt.Errorf("questions file %q contains no questions", path)
	}

	llm, err := llmclient.New(appConfig.LLM, logger)
	if err != nil {
		return err
	}

	service := survey.NewService(llm, logger)
	answers, err := service.ProcessQuestions(ctx, questions, answerContext)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(answers, "", "  ")
	if err != nil {
		return fmt.Errorf("answer encoding failed: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	stats := service.Stats()
	logger.Info("Questions answered.",
		zap.Int("questions", len(questions)),
		zap.Int("requests", stats.Requests),
		zap.Int("fallbacks", stats.Fallbacks))
	return nil
}
