package wire

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"syscall"
)

// Error record tags.
const (
	TagFileError = "FILEERROR"
	TagRPCError  = "RPCERROR"
)

// RPC error codes. These values are fixed by the wire protocol.
const (
	CodeTooManyArgs  = -1
	CodeTooFewArgs   = -2
	CodeBadOperation = -3
)

// CodeText returns a short description of an RPC error code.
func CodeText(code int) string {
	switch code {
	case CodeTooManyArgs:
		return "too many arguments"
	case CodeTooFewArgs:
		return "too few arguments"
	case CodeBadOperation:
		return "bad operation"
	default:
		return "unknown error"
	}
}

// RPCError is a request the server refused to dispatch: the request itself
// was malformed, so resending it cannot succeed.
type RPCError struct {
	Code int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, CodeText(e.Code))
}

// FileError reports a failed file operation on the server, carrying the
// server host's errno.
type FileError struct {
	Errno int
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file error %d: %s", e.Errno, ErrnoText(e.Errno))
}

// ErrorRecord is the one-line error reply, either tag with a numeric code.
type ErrorRecord struct {
	Tag  string
	Code int
}

// Encode renders the record in wire form, with no trailing newline.
func (r ErrorRecord) Encode() []byte {
	return []byte(fmt.Sprintf("%s %d", r.Tag, r.Code))
}

// Err converts the record into the matching typed error.
func (r ErrorRecord) Err() error {
	switch r.Tag {
	case TagFileError:
		return &FileError{Errno: r.Code}
	case TagRPCError:
		return &RPCError{Code: r.Code}
	default:
		return fmt.Errorf("error record with unknown tag %q", r.Tag)
	}
}

// ParseErrorRecord reports whether a reply chunk is shaped like an error
// record: a known tag followed by an integer code. Trailing NUL padding and
// whitespace are tolerated, as are stray bytes after the code, matching how
// lenient existing peers are when they scan replies.
func ParseErrorRecord(chunk []byte) (ErrorRecord, bool) {
	text := strings.TrimRight(string(chunk), "\x00 \t\r\n")
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ErrorRecord{}, false
	}
	if fields[0] != TagFileError && fields[0] != TagRPCError {
		return ErrorRecord{}, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return ErrorRecord{}, false
	}
	return ErrorRecord{Tag: fields[0], Code: code}, true
}

// RecordFor maps a server-side failure to the error record sent in reply.
// Grammar violations become RPCERROR records; anything else is treated as a
// failed file operation and reported with its errno.
func RecordFor(err error) ErrorRecord {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return ErrorRecord{Tag: TagRPCError, Code: rpcErr.Code}
	}
	return ErrorRecord{Tag: TagFileError, Code: ErrnoOf(err)}
}

// ErrnoOf extracts the errno reported in a FILEERROR record. Errors that do
// not carry a syscall errno are mapped through the portable fs sentinels,
// defaulting to EIO.
func ErrnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return int(syscall.ENOENT)
	case errors.Is(err, fs.ErrPermission):
		return int(syscall.EACCES)
	case errors.Is(err, fs.ErrInvalid):
		return int(syscall.EINVAL)
	default:
		return int(syscall.EIO)
	}
}

// ErrnoText renders an errno the way the server host would describe it.
func ErrnoText(errno int) string {
	return syscall.Errno(errno).Error()
}
