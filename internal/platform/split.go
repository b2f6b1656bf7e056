package platform

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// splitMessage chunks content at maxLen, preferring to cut on a newline in
// the second half of the chunk so paragraphs survive platform length caps.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// maxMediaBytes caps audio downloads; voice notes are small, and anything
// larger would blow the transcription request anyway.
const maxMediaBytes = 25 << 20

// readResponse drains a download response with the media size cap applied.
func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("download returned %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}
