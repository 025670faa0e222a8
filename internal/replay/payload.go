package replay

import (
	"strconv"
	"strings"

	"github.com/daemonp/zoneguard/internal/util"
)

// Request is an authenticated remote command as parsed from the wire.
type Request struct {
	Nonce   string
	Command string
}

// ReadOnly reports whether the command only reads state.
func (r Request) ReadOnly() bool {
	return IsReadOnlyCommand(r.Command)
}

func IsReadOnlyCommand(cmd string) bool {
	return cmd == "status"
}

// ParsePayload splits "token|nonce|command". When token is empty the whole
// payload is the command and a required nonce cannot be satisfied. When a token
// is configured and nonces are optional, "token|command" is also accepted.
func ParsePayload(payload, token string, requireNonce bool) (Request, error) {
	token = util.NormalizeCommand(token)
	if token == "" {
		if requireNonce {
			return Request{}, ErrUnauthorized
		}
		cmd := util.NormalizeCommand(payload)
		if cmd == "" {
			return Request{}, ErrUnauthorized
		}
		return Request{Command: cmd}, nil
	}

	presented, rest, ok := strings.Cut(payload, "|")
	if !ok || presented == "" {
		return Request{}, ErrUnauthorized
	}
	if !tokenEqual(util.NormalizeCommand(presented), token) {
		return Request{}, ErrUnauthorized
	}

	noncePart, cmdPart, ok := strings.Cut(rest, "|")
	if !ok {
		if requireNonce {
			return Request{}, ErrUnauthorized
		}
		cmd := util.NormalizeCommand(rest)
		if cmd == "" {
			return Request{}, ErrUnauthorized
		}
		return Request{Command: cmd}, nil
	}

	nonce := strings.TrimSpace(noncePart)
	cmd := util.NormalizeCommand(cmdPart)
	if nonce == "" || cmd == "" {
		return Request{}, ErrUnauthorized
	}
	return Request{Nonce: nonce, Command: cmd}, nil
}

// ParseNonce accepts only plain decimal digits that fit in 32 bits.
func ParseNonce(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
