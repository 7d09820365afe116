package events

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams broker events as server-sent events. Clients may filter
// with ?kinds=request.tracked,notification.sent; a trailing '*' matches a
// prefix (e.g. ?kinds=notification.*).
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		filter := parseKinds(r.URL.Query().Get("kinds"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !filter.allows(evt.Kind) {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

type kindFilter []string

func parseKinds(q string) kindFilter {
	if q == "" {
		return nil
	}
	var out kindFilter
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func (f kindFilter) allows(kind string) bool {
	if len(f) == 0 {
		return true
	}
	for _, k := range f {
		if prefix, ok := strings.CutSuffix(k, "*"); ok {
			if strings.HasPrefix(kind, prefix) {
				return true
			}
			continue
		}
		if k == kind {
			return true
		}
	}
	return false
}
