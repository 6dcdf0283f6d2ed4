package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Diegomcha/netquery/internal/domain"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// ServeSSE attaches to src and writes one frame per notification:
//
//	id:<seq>
//	data:<progress json>
//
// and finally "event:finished" with the artifact download name as data
// ("event:error" for a job that never ran). The request context ending
// detaches the observer without cancelling the job.
//
// An error is returned only while nothing has been written, so the caller
// can still answer with a status code.
func ServeSSE(w http.ResponseWriter, r *http.Request, src Source) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreamingUnsupported
	}
	ch, err := src.Observe(r.Context())
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for n := range ch {
		if err := WriteSSEFrame(w, n); err != nil {
			// Client gone. Returning ends the request context, which detaches the observer.
			return nil
		}
		flusher.Flush()
	}
	return nil
}

// WriteSSEFrame writes the frame for one notification
func WriteSSEFrame(w io.Writer, n domain.Notification) error {
	if n.Final {
		event := TypeFinished
		data := n.Artifact
		if n.State == domain.JobErrored {
			event, data = TypeError, string(n.State)
		}
		_, err := fmt.Fprintf(w, "event:%s\ndata:%s\n\n", event, data)
		return err
	}

	data, err := json.Marshal(progressPayload(n))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id:%d\ndata:%s\n\n", n.Seq, data)
	return err
}
