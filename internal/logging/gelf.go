package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON slog handler that ships each record to a
// Graylog GELF UDP input at addr. The returned closer releases the socket.
func NewGELFHandler(addr, facility, level string) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("creating gelf writer for %s: %w", addr, err)
	}
	w.Facility = facility
	return slog.NewJSONHandler(w, HandlerOptions(level)), w, nil
}
