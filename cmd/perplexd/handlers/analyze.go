package handlers

import (
	"math"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/perplexdev/perplex/internal/analysis"
)

type AnalyzeRequest struct {
	Text string `json:"text"`
}

type TokenResponse struct {
	Text           string               `json:"text"`
	DisplayText    string               `json:"display_text"`
	Rank           int                  `json:"rank"`
	Probability    float32              `json:"probability"`
	TopPredictions []PredictionResponse `json:"top_predictions,omitempty"`
}

type PredictionResponse struct {
	Text        string  `json:"text"`
	Probability float32 `json:"probability"`
}

type AnalyzeResponse struct {
	Tokens           []TokenResponse `json:"tokens"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	AverageRank      float64         `json:"average_rank"`
	ExactPercentage  float64         `json:"exact_prediction_percentage"`
	// Infinite perplexity (a zero-probability token) cannot be encoded as a
	// JSON number; the flag carries it with the values zeroed.
	Perplexity         float64 `json:"perplexity"`
	PerplexityInfinite bool    `json:"perplexity_infinite,omitempty"`
	TextEntropy        float64 `json:"text_entropy"`
}

func buildAnalyzeResponse(result *analysis.Result) AnalyzeResponse {
	resp := AnalyzeResponse{
		Tokens:           make([]TokenResponse, len(result.Tokens)),
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
		AverageRank:      result.AverageRank(),
		ExactPercentage:  result.ExactPredictionPercentage(),
		Perplexity:       result.Perplexity(),
		TextEntropy:      result.TextEntropy(),
	}
	if math.IsInf(resp.Perplexity, 1) {
		resp.Perplexity = 0
		resp.PerplexityInfinite = true
		resp.TextEntropy = 0
	}
	for i, tok := range result.Tokens {
		tr := TokenResponse{
			Text:        tok.Text,
			DisplayText: tok.DisplayText,
			Rank:        tok.Rank,
			Probability: tok.Probability,
		}
		for _, p := range tok.TopPredictions {
			tr.TopPredictions = append(tr.TopPredictions, PredictionResponse{
				Text:        p.Text,
				Probability: p.Probability,
			})
		}
		resp.Tokens[i] = tr
	}
	return resp
}

func AnalyzeHandler(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Text == "" {
			http.Error(w, "Text is required", http.StatusBadRequest)
			return
		}

		result, err := srv.Analyze(req.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(buildAnalyzeResponse(result))
	}
}
