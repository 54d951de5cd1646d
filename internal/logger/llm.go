package logger

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	llmMu  sync.Mutex
	llmLog *zerolog.Logger
)

// SetLLMWriter enables prompt/response transcripts. A nil writer disables them.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	l := zerolog.New(w).With().Timestamp().Logger()
	llmLog = &l
}

func transcript() *zerolog.Logger {
	llmMu.Lock()
	defer llmMu.Unlock()
	return llmLog
}

func LogLLMRequest(provider, model, purpose, prompt string) {
	l := transcript()
	if l == nil {
		return
	}
	l.Log().
		Str("kind", "request").
		Str("provider", provider).
		Str("model", model).
		Str("purpose", purpose).
		Str("prompt", prompt).
		Send()
}

func LogLLMResponse(provider, model, purpose, raw string, elapsed time.Duration, err error) {
	l := transcript()
	if l == nil {
		return
	}
	event := l.Log().
		Str("kind", "response").
		Str("provider", provider).
		Str("model", model).
		Str("purpose", purpose).
		Dur("elapsed", elapsed).
		Str("raw", raw)
	if err != nil {
		event = event.Err(err)
	}
	event.Send()
}
