package stream

import (
	"fmt"
	"io"
)

// WriteSSE frames one event for a server-sent-events client:
// `event: {name}\ndata: {json}\n\n`.
func WriteSSE(w io.Writer, ev Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data)
	return err
}
