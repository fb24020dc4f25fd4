package handlers

import (
	"net/http"

	"github.com/goccy/go-json"
)

type TokenizeRequest struct {
	Text string `json:"text"`
}

type TokenizeResponse struct {
	Count int `json:"count"`
}

func TokenizeHandler(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req TokenizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		count, err := srv.Tokenize(req.Text)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenizeResponse{Count: count})
	}
}
