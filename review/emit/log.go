package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer, either as text lines or as JSONL.
//
// Example text output:
//
//	[review_started] workflow=default 1/3 security model=gpt-5
//	[review_finished] workflow=default 1/3 security elapsed=1834ms flagged=0
//
// Example JSON output:
//
//	{"kind":"review_started","runId":"...","workflow":"default","index":1,"total":3,"name":"security","model":"gpt-5","flaggedCount":0}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stderr, which
// keeps stdout free for review results.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stderr
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] workflow=%s %d/%d %s",
		event.Kind, event.Workflow, event.Index, event.Total, event.Name)

	switch event.Kind {
	case KindReviewStarted:
		fmt.Fprintf(l.writer, " model=%s", event.Model)
	case KindReviewFinished:
		fmt.Fprintf(l.writer, " elapsed=%dms flagged=%d", event.ElapsedMs, event.FlaggedCount)
	case KindReviewFailed:
		fmt.Fprintf(l.writer, " elapsed=%dms error=%q", event.ElapsedMs, event.Error)
	}

	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}
