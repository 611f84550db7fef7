// Package wire implements the plain-text record grammar spoken between the
// jukebox client and server: one-line requests ("<OP> [<ARG>]"), error
// records ("FILEERROR <errno>" / "RPCERROR <code>"), and the numeric codes
// carried by them. Reply payloads (filename listings, file bytes, digests)
// are raw stream content and are handled by the transfer layer.
package wire

import (
	"fmt"
	"strings"
)

// DefaultPort is the port the server binds when none is configured and the
// port a client assumes when the target address omits one.
const DefaultPort = 8080

// MaxRequestLen is the request read budget. A request is carried in a single
// read of at most this many bytes; anything longer is truncated by the
// server before parsing.
const MaxRequestLen = 256

// Op identifies a request operation.
type Op int

const (
	OpList Op = iota + 1
	OpSearch
	OpDownload
)

// Operation keywords as they appear on the wire. Keywords are case-sensitive.
const (
	KeywordList     = "LIST"
	KeywordSearch   = "SEARCH"
	KeywordDownload = "DOWNLOAD"
)

// String returns the wire keyword for the operation.
func (op Op) String() string {
	switch op {
	case OpList:
		return KeywordList
	case OpSearch:
		return KeywordSearch
	case OpDownload:
		return KeywordDownload
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// NeedsArg reports whether the operation requires an argument.
func (op Op) NeedsArg() bool {
	return op == OpSearch || op == OpDownload
}

func parseOp(keyword string) (Op, bool) {
	switch keyword {
	case KeywordList:
		return OpList, true
	case KeywordSearch:
		return OpSearch, true
	case KeywordDownload:
		return OpDownload, true
	default:
		return 0, false
	}
}

// Request is a decoded client request.
type Request struct {
	Op  Op
	Arg string
}

// Encode renders the request in wire form, with no trailing newline.
func (r Request) Encode() []byte {
	if r.Arg == "" {
		return []byte(r.Op.String())
	}
	return []byte(r.Op.String() + " " + r.Arg)
}

// ParseRequest decodes one request from a raw read. The first whitespace run
// separates the keyword from the argument; the argument keeps interior
// whitespace and loses at most one trailing newline. Trailing NUL padding is
// ignored so requests from writers that send fixed-size buffers still parse.
//
// Grammar violations are reported as *RPCError: an unknown keyword is
// CodeBadOperation, a blank request or a missing required argument is
// CodeTooFewArgs. A LIST argument is accepted and ignored.
func ParseRequest(raw []byte) (Request, error) {
	text := strings.TrimRight(string(raw), "\x00")
	text = strings.TrimLeft(text, " \t\r\n")
	if text == "" {
		return Request{}, &RPCError{Code: CodeTooFewArgs}
	}

	keyword := text
	arg := ""
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		keyword = text[:i]
		arg = strings.TrimLeft(text[i:], " \t\n")
		arg = strings.TrimSuffix(arg, "\n")
	}

	op, ok := parseOp(keyword)
	if !ok {
		return Request{}, &RPCError{Code: CodeBadOperation}
	}
	if op == OpList {
		// Arguments to LIST carry no meaning and are dropped.
		return Request{Op: OpList}, nil
	}
	if arg == "" {
		return Request{}, &RPCError{Code: CodeTooFewArgs}
	}
	return Request{Op: op, Arg: arg}, nil
}
