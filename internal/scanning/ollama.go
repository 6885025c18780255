package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements the Engine interface using a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama engine
// Recommended vision models for transcription:
//   - qwen2.5vl (strong OCR, handles Hebrew and Arabic)
//   - llava:1.6 (general purpose vision model)
//   - minicpm-v (smaller, faster)
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow on CPU
		},
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

// Acquire returns a worker sharing the engine's HTTP client
func (o *Ollama) Acquire(ctx context.Context) (Worker, error) {
	return &ollamaWorker{engine: o}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaWorker struct {
	engine  *Ollama
	image   string
	pngPath string
}

func (w *ollamaWorker) Recognize(ctx context.Context, imagePath string, opts Options) (Recognition, error) {
	if w.pngPath != imagePath {
		data, err := loadPNG(imagePath)
		if err != nil {
			return Recognition{}, err
		}
		w.image, w.pngPath = base64.StdEncoding.EncodeToString(data), imagePath
	}

	reqBody := ollamaChatRequest{
		Model:  w.engine.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an OCR engine. You transcribe text from document images exactly as printed.",
			},
			{
				Role:    "user",
				Content: transcriptionPrompt(opts),
				Images:  []string{w.image},
			},
		},
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Recognition{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", w.engine.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return Recognition{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.engine.client.Do(req)
	if err != nil {
		return Recognition{}, &RecognitionError{Code: CodeTransport, Err: fmt.Errorf("calling ollama API: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Recognition{}, ollamaStatusError(resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return Recognition{}, newRecognitionError(CodeEngine, "decoding response: %w", err)
	}

	text, err := parseTranscript(chatResp.Message.Content, opts)
	if err != nil {
		return Recognition{}, err
	}
	return Recognition{Text: text}, nil
}

// Close is a no-op; the HTTP client belongs to the engine
func (w *ollamaWorker) Close() error {
	return nil
}

func ollamaStatusError(status int, body string) *RecognitionError {
	err := fmt.Errorf("ollama API error (status %d): %s", status, strings.TrimSpace(body))
	switch {
	case status >= http.StatusInternalServerError:
		return &RecognitionError{Code: CodeTransport, Err: err}
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "image"):
		return &RecognitionError{Code: CodeUnsupportedImage, Err: err}
	default:
		return &RecognitionError{Code: classifyMessage(body), Err: err}
	}
}
