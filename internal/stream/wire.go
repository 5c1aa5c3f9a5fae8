package stream

import (
	"strconv"
	"strings"

	"github.com/nodemesh/streamgate/internal/errors"
)

// Wire messages carry a bookkeeping prefix ahead of the JSON payload:
//
//	"i <seq> <payload>"  persisted message with its log sequence id
//	"v <payload>"        vanilla message, not persisted
//
// The prefix is internal; the server strips it before forwarding frames to
// clients.

// NoSequence is the sequence value of a vanilla wire message.
const NoSequence int64 = -1

// EncodePersisted builds the wire form of a persisted payload.
func EncodePersisted(seq int64, payload string) string {
	return "i " + strconv.FormatInt(seq, 10) + " " + payload
}

// EncodeVanilla builds the wire form of an unpersisted payload.
func EncodeVanilla(payload string) string {
	return "v " + payload
}

// DecodeWire splits a wire message into its sequence id and payload. The
// sequence is NoSequence for vanilla messages.
func DecodeWire(wire string) (int64, string, error) {
	switch {
	case strings.HasPrefix(wire, "v "):
		return NoSequence, wire[2:], nil
	case strings.HasPrefix(wire, "i "):
		rest := wire[2:]
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return 0, "", errors.Protocol("wire message missing payload")
		}
		seq, err := strconv.ParseInt(rest[:sp], 10, 64)
		if err != nil {
			return 0, "", errors.Protocol("wire message has malformed sequence id")
		}
		return seq, rest[sp+1:], nil
	default:
		return 0, "", errors.Protocol("wire message has unknown prefix")
	}
}
