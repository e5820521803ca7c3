package pngmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"sort"
)

// Embed copies the PNG read from r to w, inserting a tEXt chunk for every entry in
// chunks directly after the IHDR chunk, the same place ComfyUI puts them. Keywords
// are written in sorted order.
func Embed(w io.Writer, r io.Reader, chunks map[string]string) error {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	if !bytes.Equal(header, pngSignature) {
		return errNotPNG
	}
	if _, err := w.Write(header); err != nil {
		return err
	}

	keywords := make([]string, 0, len(chunks))
	for k := range chunks {
		if k == "" || len(k) > 79 {
			return errors.New("tEXt keyword must be 1-79 bytes")
		}
		keywords = append(keywords, k)
	}
	sort.Strings(keywords)

	inserted := false
	for {
		var length uint32
		err := binary.Read(r, binary.BigEndian, &length)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if length > maxChunkLength {
			return errors.New("chunk length exceeds limit")
		}
		body := make([]byte, 4+length+4) // type, data, crc
		if _, err := io.ReadFull(r, body); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, length); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}

		if !inserted && string(body[:4]) == "IHDR" {
			for _, k := range keywords {
				data := append([]byte(k), 0)
				data = append(data, chunks[k]...)
				if err := writeChunk(w, "tEXt", data); err != nil {
					return err
				}
			}
			inserted = true
		}
		if string(body[:4]) == "IEND" {
			return nil
		}
	}
}

func writeChunk(w io.Writer, chunkType string, data []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(data)
	if _, err := w.Write([]byte(chunkType)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, crc.Sum32())
}
