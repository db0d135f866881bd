package export

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/lotas/cognito/internal/types"
)

// Backup files are an 8-byte magic, a 4-byte little-endian uncompressed
// size, and one lz4 block holding the JSON document.
var backupMagic = []byte("cogLz40\x00")

const headerSize = 12 // 8 magic + 4 size

// maxBackupSize caps the uncompressed document.
const maxBackupSize = 1 << 30

// Backup writes cards to w in the compressed backup format.
func Backup(w io.Writer, cards []types.Card, now time.Time) error {
	doc, err := JSON(cards, now)
	if err != nil {
		return err
	}
	src := []byte(doc)

	compressed := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, compressed, nil)
	if err != nil {
		return fmt.Errorf("backup: compress: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, backupMagic)
	binary.LittleEndian.PutUint32(header[8:], uint32(len(src)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("backup: write: %w", err)
	}
	if _, err := w.Write(compressed[:n]); err != nil {
		return fmt.Errorf("backup: write: %w", err)
	}
	return nil
}

// ReadBackup decodes a backup written by Backup.
func ReadBackup(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("backup: read: %w", err)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("backup: data too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[:len(backupMagic)], backupMagic) {
		return nil, fmt.Errorf("backup: invalid header magic")
	}

	size := binary.LittleEndian.Uint32(data[8:headerSize])
	if size > maxBackupSize {
		return nil, fmt.Errorf("backup: declared size %d too large", size)
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[headerSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("backup: decompress: %w", err)
	}
	return ParseJSON(dst[:n])
}

// Inserter stores one card.
type Inserter interface {
	Insert(ctx context.Context, c types.Card) (int64, error)
}

// Restore inserts every card of doc in order. Ids are reassigned by the
// store; creation times are preserved. It returns the number restored.
func Restore(ctx context.Context, store Inserter, doc *Document) (int, error) {
	for i, c := range doc.Cards {
		c.ID = 0
		c.Version = 0
		if _, err := store.Insert(ctx, c); err != nil {
			return i, fmt.Errorf("restore card %d of %d: %w", i+1, len(doc.Cards), err)
		}
	}
	return len(doc.Cards), nil
}
