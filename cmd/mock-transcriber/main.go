// Command mock-transcriber is a stand-in transcription backend for local testing.
// It accepts the same multipart upload as a real backend, logs what it received
// and answers with a fixed transcript.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/saltchicken/watch-controller/internal/audio"
)

const maxUploadSize = 32 << 20

type transcriptionResponse struct {
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	Duration    float64   `json:"duration"`
	ProcessedAt time.Time `json:"processed_at"`
}

type handler struct {
	logger   *slog.Logger
	text     string
	language string
	delay    time.Duration
}

func (h *handler) transcribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	info, err := audio.ReadWAVInfo(data)
	if err != nil {
		h.logger.Warn("Rejecting upload", slog.String("error", err.Error()))
		http.Error(w, "Invalid WAV file", http.StatusBadRequest)
		return
	}

	samples, _, err := audio.DecodeWAV(data)
	if err != nil {
		h.logger.Warn("Failed to decode samples", slog.String("error", err.Error()))
	}

	h.logger.Info("Transcription request received",
		slog.String("request_id", r.FormValue("request_id")),
		slog.String("connection_id", r.FormValue("connection_id")),
		slog.String("captured_at", r.FormValue("captured_at")),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Uint64("sample_rate", uint64(info.SampleRate)),
		slog.Int("channels", int(info.Channels)),
		slog.Duration("duration", info.Duration),
		slog.Float64("rms", rms(samples)),
		slog.String("language", r.FormValue("language")),
		slog.String("response_format", r.FormValue("response_format")),
	)

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	if r.FormValue("response_format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, h.text)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transcriptionResponse{
		Text:        h.text,
		Language:    h.language,
		Duration:    info.Duration.Seconds(),
		ProcessedAt: time.Now(),
	})
}

// rms returns the root mean square of 16-bit samples, normalized to [0, 1]
func rms(samples []int) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8000", "Listen address")
	text := flag.String("text", "enter", "Transcript returned for every request")
	language := flag.String("language", "en", "Language reported in responses")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	h := &handler{logger: logger, text: *text, language: *language, delay: *delay}

	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", h.transcribe)

	logger.Info("Mock transcription server starting",
		slog.String("endpoint", "http://"+*addr+"/transcribe"),
		slog.String("text", *text),
	)

	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
