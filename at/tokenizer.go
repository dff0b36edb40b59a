package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with a
// bufio.Scanner.
//
// It splits the input by CRLF line endings and also recognizes the
// payload input prompt ("> ") emitted by AT+SMPUB, which carries no line
// terminator of its own.
//
// Important: This splitter assumes "No Echo" mode (ATE0). If echo is
// enabled, it would need modification to handle command echoes that
// precede the actual response.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token; this is
// how an unterminated trailing prompt reaches the caller when scanning a
// fully drained read buffer.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match the payload prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Lines splits a raw drained read buffer into trimmed, non-empty lines,
// in arrival order. An empty result is valid: it means the device sent
// nothing (or only whitespace) during the read window.
func Lines(raw []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Split(Splitter)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify identifies the nature of a modem output line.
func Classify(line string) ResponseType {
	if line == Prompt || strings.TrimSpace(line) == ">" || line == PromptDownload {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case strings.HasPrefix(line, PDPNotice), strings.HasPrefix(line, "+CPIN:"):
		return TypeURC
	default:
		return TypeData
	}
}
