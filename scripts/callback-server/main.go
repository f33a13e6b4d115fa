// Command callback-server receives azdeploy run notifications for local
// testing. Point [notify] url at http://localhost:3000/status.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/reviewapps-dev/azdeploy/internal/callback"
)

func main() {
	addr := flag.String("addr", ":3000", "listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	mux := http.NewServeMux()

	mux.HandleFunc("POST /status", func(w http.ResponseWriter, r *http.Request) {
		var p callback.StatusPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Info("status", "run", p.RunID, "target", p.Target, "state", p.State, "url", p.URL, "commit", p.Commit, "error", p.Error)
		received(w)
	})

	mux.HandleFunc("POST /logs", func(w http.ResponseWriter, r *http.Request) {
		var p callback.LogPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, line := range p.Lines {
			slog.Info("log", "run", p.RunID, "line", line)
		}
		received(w)
	})

	slog.Info("callback server listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		slog.Error("listen", "err", err)
		os.Exit(1)
	}
}

func received(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}
