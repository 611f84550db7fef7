package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hasherwi/CS469-Group-Project/internal/bufpool"
	"github.com/hasherwi/CS469-Group-Project/internal/progress"
	"github.com/hasherwi/CS469-Group-Project/pkg/wire"
)

var (
	// ErrDigestMismatch indicates the received content does not hash to the
	// digest the server sent.
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrTruncated indicates the stream ended before a full digest arrived.
	ErrTruncated = errors.New("stream truncated before digest")
	// ErrInvalidFilename indicates the destination name is not a bare filename.
	ErrInvalidFilename = errors.New("invalid filename")
)

// RecvOptions tunes a Receive call. The zero value is usable.
type RecvOptions struct {
	// Pool supplies chunk buffers; a private pool is created when nil.
	Pool *bufpool.Pool
	// Meter, when set, is fed every content byte written.
	Meter *progress.Meter
}

// RecvResult reports what a receive consumed and produced.
type RecvResult struct {
	// Path is the committed file path. Empty unless the receive succeeded.
	Path string
	// Received counts every byte read off the channel, digest included.
	Received int64
	// Written counts content bytes written to disk.
	Written int64
	// Digest is the verified content digest.
	Digest [DigestLen]byte
}

// Receive consumes a download reply from r and commits it to destDir under
// name. The first chunk is inspected for an error record; if the server
// declined, the decoded error is returned and nothing touches the disk.
// Otherwise content is spooled to a temporary file with the digest-sized
// tail held back, and on EOF the tail is verified against the SHA-256 of
// the spooled content. Only a verified file is renamed into place; on any
// failure the temporary file is removed.
func Receive(ctx context.Context, r io.Reader, destDir, name string, opts RecvOptions) (RecvResult, error) {
	var res RecvResult

	if err := validateFilename(name); err != nil {
		return res, err
	}

	pool := opts.Pool
	if pool == nil {
		pool = bufpool.New(DefaultChunkSize)
	}
	buf := pool.Get()
	defer pool.Put(buf)

	// First chunk decides between an error reply and a content stream.
	n, err := r.Read(buf)
	res.Received += int64(n)
	if n == 0 {
		if err == io.EOF {
			return res, ErrTruncated
		}
		if err != nil {
			return res, fmt.Errorf("failed to read reply: %w", err)
		}
	}
	if rec, ok := wire.ParseErrorRecord(buf[:n]); ok {
		return res, rec.Err()
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return res, fmt.Errorf("create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(destDir, "."+name+".*.partial")
	if err != nil {
		return res, fmt.Errorf("create temporary file: %w", err)
	}
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	digest := sha256.New()
	tail := make([]byte, 0, DigestLen)
	scratch := make([]byte, 0, len(buf)+DigestLen)

	// absorb spools a chunk, keeping the last DigestLen bytes held back as
	// the candidate digest.
	absorb := func(data []byte) error {
		scratch = append(scratch[:0], tail...)
		scratch = append(scratch, data...)
		if len(scratch) <= DigestLen {
			tail = append(tail[:0], scratch...)
			return nil
		}
		content := scratch[:len(scratch)-DigestLen]
		digest.Write(content)
		if _, err := tmp.Write(content); err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		res.Written += int64(len(content))
		if opts.Meter != nil {
			opts.Meter.Add(len(content))
		}
		tail = append(tail[:0], scratch[len(scratch)-DigestLen:]...)
		return nil
	}

	if err := absorb(buf[:n]); err != nil {
		return res, err
	}

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		n, err := r.Read(buf)
		res.Received += int64(n)
		if n > 0 {
			if aerr := absorb(buf[:n]); aerr != nil {
				return res, aerr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read from channel: %w", err)
		}
	}

	if len(tail) < DigestLen {
		return res, ErrTruncated
	}
	sum := digest.Sum(nil)
	if !bytes.Equal(sum, tail) {
		return res, ErrDigestMismatch
	}
	copy(res.Digest[:], sum)

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		tmp = nil
		return res, fmt.Errorf("failed to close temporary file: %w", err)
	}
	finalPath := filepath.Join(destDir, name)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		_ = os.Remove(tmp.Name())
		tmp = nil
		return res, fmt.Errorf("failed to commit file: %w", err)
	}
	tmp = nil

	res.Path = finalPath
	return res, nil
}

// validateFilename ensures the destination is a safe bare filename.
func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidFilename
	}
	if strings.ContainsAny(name, "/\\") {
		return ErrInvalidFilename
	}
	return nil
}
