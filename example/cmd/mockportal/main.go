// Standalone mock portal for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockportal
//
// Then in another terminal:
//
//	go run ./cmd/taskpoll run original-documents -c example/config.yaml
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockTask struct {
	readyAt time.Time
	fail    bool
}

func main() {
	fmt.Println("Mock portal starting on :9999")
	fmt.Println("Jobs finish after 3-8s; sec_code=000000 fails")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	var (
		tasks = make(map[string]*mockTask)
		mu    sync.Mutex
	)

	http.HandleFunc("/services/original-document/", func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		mu.Lock()
		tasks[id] = &mockTask{
			readyAt: time.Now().Add(time.Duration(3+rand.Intn(6)) * time.Second),
			fail:    r.FormValue("sec_code") == "000000",
		}
		mu.Unlock()
		slog.Info("job started", "task_id", id)
		writeJSON(w, map[string]string{"task_id": id})
	})

	http.HandleFunc("/search/get-task-info/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("task_id")
		if id == "" {
			http.Error(w, "No job id given.", http.StatusBadRequest)
			return
		}

		mu.Lock()
		task, ok := tasks[id]
		mu.Unlock()

		switch {
		case !ok || time.Now().Before(task.readyAt):
			writeJSON(w, map[string]any{"state": "PENDING"})
		case task.fail:
			writeJSON(w, map[string]any{"state": "SUCCESS", "result": false})
		default:
			writeJSON(w, map[string]any{"state": "SUCCESS", "result": "/media/exports/" + id + ".zip"})
		}
	})

	if err := http.ListenAndServe(":9999", nil); err != nil {
		slog.Error("mock portal error", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
