package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Engine interface using Google Gemini
type Gemini struct {
	apiKey    string
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini engine
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &Gemini{
		apiKey:    apiKey,
		modelName: modelName,
		timeout:   60 * time.Second,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Acquire opens a client owned by the returned worker
func (g *Gemini) Acquire(ctx context.Context) (Worker, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(g.modelName)
	model.SetTemperature(0)

	return &geminiWorker{client: client, model: model, timeout: g.timeout}, nil
}

type geminiWorker struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
	png     []byte
	pngPath string
}

func (w *geminiWorker) Recognize(ctx context.Context, imagePath string, opts Options) (Recognition, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if w.pngPath != imagePath {
		data, err := loadPNG(imagePath)
		if err != nil {
			return Recognition{}, err
		}
		w.png, w.pngPath = data, imagePath
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	parts := []genai.Part{
		genai.ImageData("png", w.png),
		genai.Text(transcriptionPrompt(opts)),
	}

	resp, err := w.model.GenerateContent(ctx, parts...)
	if err != nil {
		return Recognition{}, &RecognitionError{
			Code: classifyMessage(err.Error()),
			Err:  fmt.Errorf("generating content: %w", err),
		}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Recognition{}, newRecognitionError(CodeEngine, "no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	text, err := parseTranscript(responseText.String(), opts)
	if err != nil {
		return Recognition{}, err
	}
	return Recognition{Text: text}, nil
}

// Close closes the Gemini client
func (w *geminiWorker) Close() error {
	return w.client.Close()
}
