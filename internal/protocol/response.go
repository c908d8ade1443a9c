package protocol

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// writeReply emits the fixed reply shape the push firmware parses. The
// devices expect exactly these headers in this order, so the reply is
// written by hand instead of going through net/http.
func writeReply(w io.Writer, body string) error {
	header := fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nAccept-Ranges: bytes\r\nDate: %s\r\nContent-Length: %d\r\n\r\n",
		time.Now().UTC().Format(http.TimeFormat), len(body))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := io.WriteString(w, body)
	return err
}
