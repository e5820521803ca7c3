package pngmeta

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// chunks larger than this are treated as corrupt rather than allocated
const maxChunkLength = 64 << 20

var (
	// ErrNotAWorkflowImage is returned when the image carries neither a workflow nor a prompt chunk
	ErrNotAWorkflowImage = errors.New("not a workflow image")
	// ErrMalformedMetadata is returned when a metadata chunk is present but none of its candidates is valid JSON
	ErrMalformedMetadata = errors.New("malformed workflow metadata")
)

// Keywords are tried in order and the first one that parses wins. ComfyUI's
// SaveImage writes the lower case names, several third party savers and the
// exif based formats use the capitalised ones.
var (
	WorkflowKeywords = []string{"workflow", "Workflow"}
	PromptKeywords   = []string{"prompt", "Prompt"}
)

// Metadata holds the workflow documents recovered from an image
type Metadata struct {
	Workflow        json.RawMessage // edit-time graph, nil when absent
	WorkflowKeyword string
	Prompt          json.RawMessage // execution-time record, nil when absent
	PromptKeyword   string
}

// HasWorkflow reports whether the image carried an edit-time workflow graph
func (m *Metadata) HasWorkflow() bool {
	return len(m.Workflow) != 0
}

// HasPrompt reports whether the image carried an execution record
func (m *Metadata) HasPrompt() bool {
	return len(m.Prompt) != 0
}

// ReadTextChunks walks the chunks of a PNG stream and returns the contents of every
// tEXt, zTXt and iTXt chunk by keyword. When a keyword repeats the first one wins.
// If the stream is cut off or corrupt after the signature, the chunks read so far
// are returned together with an error wrapping ErrDamagedStream.
func ReadTextChunks(r io.Reader) (map[string]string, error) {
	header := make([]byte, 8)
	_, err := io.ReadFull(r, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotPNG, err)
	}

	if !bytes.Equal(header, pngSignature) {
		return nil, errNotPNG
	}

	txtChunks := make(map[string]string)

	for {
		var length uint32
		err = binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			break
		}
		if err != nil {
			return txtChunks, fmt.Errorf("%w: %v", ErrDamagedStream, err)
		}
		if length > maxChunkLength {
			return txtChunks, fmt.Errorf("%w: chunk length %d exceeds limit", ErrDamagedStream, length)
		}

		chunkType := make([]byte, 4)
		_, err = io.ReadFull(r, chunkType)
		if err != nil {
			return txtChunks, fmt.Errorf("%w: %v", ErrDamagedStream, err)
		}

		switch string(chunkType) {
		case "tEXt", "zTXt", "iTXt":
			chunkData := make([]byte, length)
			_, err = io.ReadFull(r, chunkData)
			if err != nil {
				return txtChunks, fmt.Errorf("%w: %v", ErrDamagedStream, err)
			}
			keyword, text, err := decodeTextChunk(string(chunkType), chunkData)
			if err != nil {
				// a single bad chunk should not hide the others
				slog.Debug("skipping text chunk", "type", string(chunkType), "error", err)
			} else if _, ok := txtChunks[keyword]; !ok {
				txtChunks[keyword] = text
			}
		default:
			_, err = io.CopyN(io.Discard, r, int64(length))
			if err != nil {
				return txtChunks, fmt.Errorf("%w: %v", ErrDamagedStream, err)
			}
		}

		// Skip the CRC
		_, err = io.CopyN(io.Discard, r, 4)
		if err != nil {
			return txtChunks, fmt.Errorf("%w: %v", ErrDamagedStream, err)
		}

		if string(chunkType) == "IEND" {
			break
		}
	}

	return txtChunks, nil
}

var errNotPNG = errors.New("not a valid PNG file")

// ErrDamagedStream is wrapped by ReadTextChunks when the chunk walk cannot finish
var ErrDamagedStream = errors.New("damaged png stream")

func decodeTextChunk(chunkType string, data []byte) (string, string, error) {
	keywordEnd := bytes.IndexByte(data, 0)
	if keywordEnd <= 0 {
		return "", "", errors.New("malformed " + chunkType + " chunk")
	}
	keyword := string(data[:keywordEnd])
	rest := data[keywordEnd+1:]

	switch chunkType {
	case "tEXt":
		// tEXt is latin-1 but ComfyUI writes utf-8 json into it, keep the bytes as they are
		return keyword, string(rest), nil
	case "zTXt":
		if len(rest) < 1 || rest[0] != 0 {
			return "", "", errors.New("unsupported zTXt compression method")
		}
		text, err := inflate(rest[1:])
		return keyword, text, err
	default:
		// iTXt: compression flag, compression method, language tag\0, translated keyword\0, text
		if len(rest) < 2 {
			return "", "", errors.New("malformed iTXt chunk")
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		for i := 0; i < 2; i++ {
			end := bytes.IndexByte(rest, 0)
			if end == -1 {
				return "", "", errors.New("malformed iTXt chunk")
			}
			rest = rest[end+1:]
		}
		if compressed {
			text, err := inflate(rest)
			return keyword, text, err
		}
		return keyword, string(rest), nil
	}
}

func inflate(data []byte) (string, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxChunkLength))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Extract reads the image and recovers its workflow and prompt documents.
//
// Returns:
//   - ErrNotAWorkflowImage if the stream is not a PNG or has neither chunk
//   - ErrMalformedMetadata if a chunk is present but none of its candidates parse
func Extract(r io.Reader) (*Metadata, error) {
	chunks, err := ReadTextChunks(r)
	if err != nil {
		if !errors.Is(err, ErrDamagedStream) {
			return nil, fmt.Errorf("%w: %v", ErrNotAWorkflowImage, err)
		}
		// ComfyUI writes its text chunks ahead of the image data
		slog.Warn("png stream ended early, using the text chunks read so far", "chunks", len(chunks), "error", err)
	}
	return FromChunks(chunks)
}

// ExtractFile is Extract over a file on disk
func ExtractFile(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Extract(f)
}

// FromChunks selects the workflow and prompt documents out of already decoded text chunks
func FromChunks(chunks map[string]string) (*Metadata, error) {
	md := &Metadata{}
	workflowPresent, workflowErr := selectDocument(chunks, WorkflowKeywords, &md.Workflow, &md.WorkflowKeyword)
	promptPresent, promptErr := selectDocument(chunks, PromptKeywords, &md.Prompt, &md.PromptKeyword)

	if !workflowPresent && !promptPresent {
		return nil, ErrNotAWorkflowImage
	}
	if workflowErr != nil {
		return nil, workflowErr
	}
	if promptErr != nil {
		return nil, promptErr
	}
	return md, nil
}

func selectDocument(chunks map[string]string, keywords []string, dst *json.RawMessage, dstKeyword *string) (bool, error) {
	present := false
	for _, kw := range keywords {
		text, ok := chunks[kw]
		if !ok {
			continue
		}
		present = true
		doc := []byte(text)
		if !json.Valid(doc) {
			doc = sanitizeNonFinite(doc)
			if !json.Valid(doc) {
				slog.Debug("metadata chunk is not valid json", "keyword", kw)
				continue
			}
		}
		*dst = doc
		*dstKeyword = kw
		return true, nil
	}
	if present {
		return true, fmt.Errorf("%w: no valid %q chunk", ErrMalformedMetadata, keywords[0])
	}
	return false, nil
}

// sanitizeNonFinite replaces the NaN and Infinity literals python's json module
// emits with null. Text inside strings is left alone.
func sanitizeNonFinite(doc []byte) []byte {
	out := make([]byte, 0, len(doc))
	inString := false
	escaped := false
	for i := 0; i < len(doc); i++ {
		c := doc[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		matched := false
		for _, lit := range []string{"-Infinity", "Infinity", "NaN"} {
			if bytes.HasPrefix(doc[i:], []byte(lit)) {
				out = append(out, "null"...)
				i += len(lit) - 1
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, c)
		}
	}
	return out
}
