// Package transfer implements the payload of a download session. The sender
// streams file bytes in fixed-size chunks and finishes with a raw SHA-256
// digest of everything sent; the receiver spools content while holding back
// the digest-sized tail, then verifies and commits. There is no framing
// around the bytes: end of stream marks end of payload.
package transfer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/hasherwi/CS469-Group-Project/internal/bufpool"
)

// DigestLen is the size of the trailing digest.
const DigestLen = sha256.Size

// DefaultChunkSize is the read/write chunk budget for streaming.
const DefaultChunkSize = 32 * 1024

// SendResult reports what a completed send put on the wire.
type SendResult struct {
	// Bytes is the number of content bytes streamed, digest excluded.
	Bytes int64
	// Digest is the SHA-256 of the streamed content, as sent.
	Digest [DigestLen]byte
}

// Send streams src to w in chunks, computing the digest as it reads, then
// writes the digest. src is read to EOF; the caller opens and closes it.
// A failure mid-stream leaves the channel unusable and the caller is
// expected to drop it, which the receiver observes as a truncated stream.
func Send(ctx context.Context, w io.Writer, src io.Reader, pool *bufpool.Pool) (SendResult, error) {
	if pool == nil {
		pool = bufpool.New(DefaultChunkSize)
	}
	buf := pool.Get()
	defer pool.Put(buf)

	digest := sha256.New()
	var res SendResult

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			digest.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				return res, fmt.Errorf("failed to write to channel: %w", werr)
			}
			res.Bytes += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to read file: %w", err)
		}
	}

	sum := digest.Sum(nil)
	copy(res.Digest[:], sum)
	if _, err := w.Write(sum); err != nil {
		return res, fmt.Errorf("failed to write digest: %w", err)
	}
	return res, nil
}
