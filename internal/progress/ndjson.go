package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of the event stream.
const ContentType = "application/x-ndjson"

// NDJSONWriter writes one JSON event per line and flushes after each line
// when the underlying writer supports it.
type NDJSONWriter struct {
	enc     *json.Encoder
	flusher http.Flusher
}

// NewNDJSONWriter wraps w.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	flusher, _ := w.(http.Flusher)
	return &NDJSONWriter{enc: enc, flusher: flusher}
}

// Write encodes one event.
func (n *NDJSONWriter) Write(e Event) error {
	if err := n.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write event %d: %w", e.Seq, err)
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

// Pump writes every event from events until the channel closes. After a write
// error the remaining events are drained without writing so the producer
// never blocks on a gone reader. The first write error is returned.
func Pump(events <-chan Event, w *NDJSONWriter) error {
	var firstErr error
	for e := range events {
		if firstErr != nil {
			continue
		}
		if err := w.Write(e); err != nil {
			firstErr = err
		}
	}
	return firstErr
}
