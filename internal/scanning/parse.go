package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// transcript is the JSON object the LLM engines are asked to return
type transcript struct {
	Text     string `json:"text"`
	Readable *bool  `json:"readable"`
}

// transcriptionPrompt builds the prompt shared by all LLM engines
func transcriptionPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString(`You are transcribing a scanned invoice or receipt. Read every line of text in the image exactly as printed, top to bottom, keeping the original line breaks. Do not translate, summarize, reorder or correct anything. Dates and numbers must be copied digit by digit.`)
	if len(opts.LanguageHints) > 0 {
		fmt.Fprintf(&b, "\n\nThe document may contain these languages (ISO 639-2): %s.", strings.Join(opts.LanguageHints, ", "))
	}
	if opts.CharWhitelist != "" {
		fmt.Fprintf(&b, "\n\nOnly these characters may appear in the transcription, drop anything else: %s", opts.CharWhitelist)
	}
	b.WriteString(`

Return ONLY valid JSON in this exact format:
{
  "text": "the transcribed text, lines separated by \n",
  "readable": true
}

Set "readable" to false and "text" to "" if the image is too blurry, too dark, too small or otherwise contains no legible text.
Do not include any text before or after the JSON. Do not use markdown code blocks.`)
	return b.String()
}

// parseTranscript extracts the transcription from an LLM response. Responses
// that ignore the JSON format are taken as plain text. The result is filtered
// to the whitelist in opts.
func parseTranscript(response string, opts Options) (string, error) {
	text := strings.TrimSpace(response)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx != -1 && endIdx > startIdx {
		var t transcript
		if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &t); err == nil {
			if t.Readable != nil && !*t.Readable {
				return "", newRecognitionError(CodeImageQuality, "model reported no legible text")
			}
			return filterWhitelist(t.Text, opts.CharWhitelist), nil
		}
	}

	return filterWhitelist(text, opts.CharWhitelist), nil
}

// filterWhitelist drops every rune of s not in whitelist. Line breaks are
// kept so the text keeps its layout. An empty whitelist keeps everything.
func filterWhitelist(s, whitelist string) string {
	if whitelist == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || strings.ContainsRune(whitelist, r) {
			return r
		}
		return -1
	}, s)
}
