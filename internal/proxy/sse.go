package proxy

import (
	"bufio"
	"bytes"
	"io"

	"github.com/raaihank/glasslm/internal/privacy"
)

// sseUnmasker restores placeholders in server-sent event data lines as they stream.
// A placeholder split across two events is left as is.
type sseUnmasker struct {
	src    io.ReadCloser
	reader *bufio.Reader
	items  []privacy.MaskedItem
	buf    bytes.Buffer
	err    error
}

func newSSEUnmasker(src io.ReadCloser, items []privacy.MaskedItem) *sseUnmasker {
	return &sseUnmasker{src: src, reader: bufio.NewReader(src), items: items}
}

func (u *sseUnmasker) Read(p []byte) (int, error) {
	for u.buf.Len() == 0 && u.err == nil {
		line, err := u.reader.ReadBytes('\n')
		if len(line) > 0 {
			u.buf.Write(unmaskEventLine(line, u.items))
		}
		u.err = err
	}
	if u.buf.Len() > 0 {
		return u.buf.Read(p)
	}
	return 0, u.err
}

func (u *sseUnmasker) Close() error {
	return u.src.Close()
}

// unmaskEventLine rewrites the payload of a "data:" line and keeps its line ending
func unmaskEventLine(line []byte, items []privacy.MaskedItem) []byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return line
	}

	payload := line[len("data:"):]
	content := bytes.TrimRight(payload, "\r\n")
	ending := payload[len(content):]

	lead := []byte{}
	if bytes.HasPrefix(content, []byte(" ")) {
		lead = []byte(" ")
		content = content[1:]
	}

	out := make([]byte, 0, len(line))
	out = append(out, "data:"...)
	out = append(out, lead...)
	out = append(out, privacy.UnmaskJSON(content, items)...)
	out = append(out, ending...)
	return out
}
