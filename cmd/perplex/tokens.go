package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perplexdev/perplex/internal/analysis"
	"github.com/perplexdev/perplex/internal/engine"
	"github.com/perplexdev/perplex/internal/engine/onnx"
)

var tokensCmd = &cobra.Command{
	Use:   "tokens [file]",
	Short: "Count the tokens in a text without running the model",
	Long: `Tokenizes the input (file, or stdin when the argument is "-" or
omitted) and prints the token count. Only the tokenizer is exercised,
so this is cheap even for large inputs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTokens,
}

func init() {
	tokensCmd.Flags().StringVarP(&modelPath, "model", "m", "", "path to the ONNX model file")
	tokensCmd.Flags().StringVarP(&tokenizerPath, "tokenizer", "t", "", "path to tokenizer.json")
	rootCmd.AddCommand(tokensCmd)
}

func runTokens(cmd *cobra.Command, args []string) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}
	text, _, err := readInput(args)
	if err != nil {
		return err
	}

	worker := analysis.StartWorker(func() (engine.Engine, error) {
		return onnx.Load(opts.ModelPath, opts.TokenizerPath)
	})
	defer worker.Shutdown()

	for msg := range worker.Messages() {
		switch msg.Kind {
		case analysis.MsgModelLoaded:
			if err := worker.Tokenize(text); err != nil {
				return err
			}
		case analysis.MsgTokenCount:
			fmt.Println(msg.Count)
			return nil
		case analysis.MsgError:
			return fmt.Errorf("%s", msg.Err)
		}
	}
	return fmt.Errorf("worker exited before counting")
}
