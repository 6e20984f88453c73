// Package publish implements the ingest side of `cargo publish`.
//
// The request body cargo sends is framed as:
//
//	u32 LE  metadata length
//	[]byte  metadata JSON
//	u32 LE  archive length
//	[]byte  .crate archive
//
// Decode reads the metadata eagerly and hands the archive back as a stream,
// so the archive is never held in memory as a whole.
package publish

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/stacklok/cargo-registry-server/internal/crate"
	"github.com/stacklok/cargo-registry-server/internal/errs"
)

const (
	// DefaultMaxMetadataSize bounds the metadata JSON document
	DefaultMaxMetadataSize = 1 << 20

	// DefaultMaxArchiveSize bounds the .crate archive
	DefaultMaxArchiveSize = 10 << 20
)

// Limits bounds the sizes accepted by Decode
type Limits struct {
	MaxMetadataSize int64
	MaxArchiveSize  int64
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{
		MaxMetadataSize: DefaultMaxMetadataSize,
		MaxArchiveSize:  DefaultMaxArchiveSize,
	}
}

// Payload is a decoded publish request
type Payload struct {
	Metadata *crate.Metadata

	// ArchiveSize is the declared length of the archive
	ArchiveSize int64

	// Archive yields the archive bytes. Callers must read exactly
	// ArchiveSize bytes from it.
	Archive io.Reader
}

// Decode reads the metadata section and the archive length prefix from r.
// The archive itself is left unread on r.
func Decode(r io.Reader, limits Limits) (*Payload, error) {
	const op = "publish.Decode"

	if limits.MaxMetadataSize <= 0 {
		limits.MaxMetadataSize = DefaultMaxMetadataSize
	}
	if limits.MaxArchiveSize <= 0 {
		limits.MaxArchiveSize = DefaultMaxArchiveSize
	}

	metaLen, err := readLength(r, "metadata")
	if err != nil {
		return nil, err
	}
	if int64(metaLen) > limits.MaxMetadataSize {
		return nil, errs.Validationf(op, "metadata is %d bytes, limit is %d", metaLen, limits.MaxMetadataSize)
	}

	raw := make([]byte, metaLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, truncated(op, "metadata", err)
	}

	meta, err := crate.DecodeMetadata(raw)
	if err != nil {
		return nil, err
	}

	archiveLen, err := readLength(r, "archive")
	if err != nil {
		return nil, err
	}
	if int64(archiveLen) > limits.MaxArchiveSize {
		return nil, errs.Validationf(op, "archive is %d bytes, limit is %d", archiveLen, limits.MaxArchiveSize)
	}

	return &Payload{
		Metadata:    meta,
		ArchiveSize: int64(archiveLen),
		Archive:     r,
	}, nil
}

// Encode writes meta and archive using the publish framing
func Encode(w io.Writer, meta *crate.Metadata, archive []byte) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(8 + len(raw) + len(archive))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(raw)))
	buf.Write(raw)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(archive)))
	buf.Write(archive)

	_, err = buf.WriteTo(w)
	return err
}

func readLength(r io.Reader, section string) (uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return 0, truncated("publish.Decode", section+" length", err)
	}
	return n, nil
}

func truncated(op, section string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.Validationf(op, "request body ended before the %s", section)
	}
	return errs.E(errs.KindValidation, op, fmt.Errorf("failed to read %s: %w", section, err))
}
