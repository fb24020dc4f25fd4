package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/perplexdev/perplex/internal/analysis"
	"github.com/perplexdev/perplex/internal/engine"
	"github.com/perplexdev/perplex/internal/engine/onnx"
	"github.com/perplexdev/perplex/internal/export"
	"github.com/perplexdev/perplex/internal/settings"
)

var (
	modelPath     string
	tokenizerPath string
	batchSize     int
	exportAddr    string
	jsonOutput    bool
	noColor       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Analyze how well the model predicted each token of a text",
	Long: `Reads text from a file (or stdin when the argument is "-" or omitted),
runs it through the model and prints every token colored by prediction
rank, followed by aggregate statistics.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&modelPath, "model", "m", "", "path to the ONNX model file")
	analyzeCmd.Flags().StringVarP(&tokenizerPath, "tokenizer", "t", "", "path to tokenizer.json")
	analyzeCmd.Flags().IntVarP(&batchSize, "batch", "b", 0, "decode batch size (default from settings)")
	analyzeCmd.Flags().StringVar(&exportAddr, "export", "", "Arrow Flight endpoint to export per-token results to")
	analyzeCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the result as JSON instead of colored text")
	analyzeCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	rootCmd.AddCommand(analyzeCmd)
}

// resolveOptions layers flags over persisted settings and saves the merged
// result, so the next run remembers the model.
func resolveOptions() (settings.Settings, error) {
	s := settings.Load()
	if modelPath != "" {
		s.ModelPath = modelPath
	}
	if tokenizerPath != "" {
		s.TokenizerPath = tokenizerPath
	}
	if batchSize > 0 {
		s.BatchSize = batchSize
	}
	if exportAddr != "" {
		s.ExportAddr = exportAddr
	}
	if s.ModelPath == "" {
		return s, fmt.Errorf("no model selected: pass --model or set model_path in ~/%s", ".perplex.json")
	}
	if s.TokenizerPath == "" {
		s.TokenizerPath = filepath.Join(filepath.Dir(s.ModelPath), "tokenizer.json")
	}
	if err := s.Save(); err != nil {
		// Persistence is advisory; analysis proceeds regardless.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return s, nil
}

func readInput(args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "stdin", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("read input: %w", err)
	}
	return string(data), filepath.Base(args[0]), nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	opts, err := resolveOptions()
	if err != nil {
		return err
	}
	text, label, err := readInput(args)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("input is empty")
	}

	worker := analysis.StartWorkerWithBatchSize(func() (engine.Engine, error) {
		return onnx.Load(opts.ModelPath, opts.TokenizerPath)
	}, opts.BatchSize)
	defer worker.Shutdown()

	var bar *progressbar.ProgressBar
	for msg := range worker.Messages() {
		switch msg.Kind {
		case analysis.MsgModelLoaded:
			if err := worker.Analyze(text); err != nil {
				return err
			}
		case analysis.MsgStarted:
		case analysis.MsgProgress:
			if bar == nil {
				bar = progressbar.NewOptions(msg.Total,
					progressbar.OptionSetDescription("Analyzing"),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWriter(os.Stderr),
				)
			}
			_ = bar.Set(msg.Current)
		case analysis.MsgCompleted:
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			return finishAnalysis(msg.Result, label, opts)
		case analysis.MsgError:
			return fmt.Errorf("%s", msg.Err)
		}
	}
	return fmt.Errorf("worker exited without a result")
}

func finishAnalysis(result *analysis.Result, label string, opts settings.Settings) error {
	if jsonOutput {
		if err := printJSON(result); err != nil {
			return err
		}
	} else {
		printColored(result)
	}

	if opts.ExportAddr != "" {
		exporter := export.NewFlightExporter(opts.ExportAddr)
		ctx := context.Background()
		if err := exporter.Connect(ctx); err != nil {
			return err
		}
		defer exporter.Close()
		if err := exporter.Export(ctx, label, result); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "exported %d rows to %s\n", len(result.Tokens), opts.ExportAddr)
	}
	return nil
}

func printColored(result *analysis.Result) {
	for _, tok := range result.Tokens {
		if noColor {
			fmt.Print(tok.DisplayText)
		} else {
			fmt.Print(colorize(tok.DisplayText, tok.Rank))
		}
	}
	fmt.Println()
	fmt.Println()
	printStats(result)
}

func printStats(result *analysis.Result) {
	ppl := result.Perplexity()
	pplText := fmt.Sprintf("%.2f", ppl)
	if math.IsInf(ppl, 1) {
		pplText = "inf (a token had probability 0)"
	}
	fmt.Printf("tokens:            %d\n", len(result.Tokens))
	fmt.Printf("average rank:      %.2f\n", result.AverageRank())
	fmt.Printf("exact predictions: %.1f%%\n", result.ExactPredictionPercentage())
	fmt.Printf("perplexity:        %s\n", pplText)
	fmt.Printf("text entropy:      %.1f bits\n", result.TextEntropy())
	fmt.Printf("processing time:   %dms\n", result.ProcessingTime.Milliseconds())
}

type jsonToken struct {
	Text           string           `json:"text"`
	DisplayText    string           `json:"display_text"`
	Rank           int              `json:"rank"`
	Probability    float32          `json:"probability"`
	TopPredictions []jsonPrediction `json:"top_predictions,omitempty"`
}

type jsonPrediction struct {
	Text        string  `json:"text"`
	Probability float32 `json:"probability"`
}

type jsonResult struct {
	Tokens           []jsonToken `json:"tokens"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	AverageRank      float64     `json:"average_rank"`
	ExactPercentage  float64     `json:"exact_prediction_percentage"`
	// Infinite perplexity (a zero-probability token) is not representable
	// in JSON numbers; it is reported via the flag with the value zeroed.
	Perplexity         float64 `json:"perplexity"`
	PerplexityInfinite bool    `json:"perplexity_infinite,omitempty"`
	TextEntropy        float64 `json:"text_entropy"`
}

func printJSON(result *analysis.Result) error {
	out := jsonResult{
		Tokens:           make([]jsonToken, len(result.Tokens)),
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
		AverageRank:      result.AverageRank(),
		ExactPercentage:  result.ExactPredictionPercentage(),
		Perplexity:       result.Perplexity(),
		TextEntropy:      result.TextEntropy(),
	}
	if math.IsInf(out.Perplexity, 1) {
		out.Perplexity = 0
		out.PerplexityInfinite = true
		out.TextEntropy = 0
	}
	for i, tok := range result.Tokens {
		jt := jsonToken{
			Text:        tok.Text,
			DisplayText: tok.DisplayText,
			Rank:        tok.Rank,
			Probability: tok.Probability,
		}
		for _, p := range tok.TopPredictions {
			jt.TopPredictions = append(jt.TopPredictions, jsonPrediction{Text: p.Text, Probability: p.Probability})
		}
		out.Tokens[i] = jt
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
