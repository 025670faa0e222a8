package replay

import (
	"crypto/subtle"
	"errors"

	"github.com/daemonp/zoneguard/internal/config"
	"github.com/daemonp/zoneguard/internal/log"
	"github.com/daemonp/zoneguard/internal/util"
)

// NonceFloorKey is the persisted key for the highest accepted nonce.
const NonceFloorKey = "rnonce"

// The error text doubles as the ack detail sent back to the caller.
var (
	ErrTokenRequired = errors.New("token required")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNonceStorage  = errors.New("nonce storage unavailable")
	ErrReplay        = errors.New("replay rejected")
)

// NonceStore persists the monotonic nonce floor.
type NonceStore interface {
	GetUint(key string) (uint32, bool, error)
	PutUint(key string, v uint32) error
}

// Authorizer layers token check, monotonic nonce floor and the replay window.
type Authorizer struct {
	cfg        config.RemoteConfig
	guard      *Guard
	store      NonceStore
	storeReady bool
	floor      uint32
	logger     *log.Logger
}

// NewAuthorizer loads the nonce floor from store. A nil store, or one that
// fails to read, leaves persistence unavailable which gates fail-closed policy.
func NewAuthorizer(cfg config.RemoteConfig, store NonceStore, logger *log.Logger) *Authorizer {
	if logger == nil {
		logger = log.Nop()
	}
	a := &Authorizer{
		cfg:    cfg,
		guard:  NewGuard(),
		store:  store,
		logger: logger,
	}
	if store != nil {
		floor, _, err := store.GetUint(NonceFloorKey)
		if err != nil {
			logger.Warn("Nonce floor unavailable: %v", err)
		} else {
			a.floor = floor
			a.storeReady = true
		}
	}
	return a
}

// PersistenceReady reports whether the nonce floor is durable.
func (a *Authorizer) PersistenceReady() bool {
	return a.storeReady
}

// Floor returns the highest accepted monotonic nonce.
func (a *Authorizer) Floor() uint32 {
	return a.floor
}

// Authorize checks payload at time now. Rejections return one of the package
// sentinel errors; the returned Request is still filled in as far as parsing got.
func (a *Authorizer) Authorize(payload string, now uint32) (Request, error) {
	token := util.NormalizeCommand(a.cfg.Token)

	if token == "" && !a.cfg.AllowWithoutToken {
		req := Request{Command: util.NormalizeCommand(payload)}
		if !req.ReadOnly() {
			return req, ErrTokenRequired
		}
		return req, nil
	}

	requireNonce := token != "" && a.cfg.RequireNonce
	req, err := ParsePayload(payload, token, requireNonce)
	if err != nil {
		return req, err
	}
	if !requireNonce {
		return req, nil
	}

	readOnly := req.ReadOnly()
	if !readOnly && a.cfg.RequireMonotonicNonce && a.cfg.FailClosedIfNoncePersistenceMissing && !a.storeReady {
		return req, ErrNonceStorage
	}
	if !a.acceptNonce(req.Nonce, now, readOnly) {
		return req, ErrReplay
	}
	return req, nil
}

// acceptNonce enforces the floor for mutating commands and the replay window
// for all. Read-only commands neither check nor advance the floor.
func (a *Authorizer) acceptNonce(nonce string, now uint32, readOnly bool) bool {
	monotonic := a.cfg.RequireMonotonicNonce && !readOnly

	var parsed uint32
	if monotonic {
		v, ok := ParseNonce(nonce)
		if !ok || v <= a.floor {
			return false
		}
		parsed = v
	}

	if !a.guard.Accept(nonce, now, a.cfg.NonceTTLMs) {
		return false
	}
	if !monotonic {
		return true
	}

	a.floor = parsed
	if a.storeReady {
		if err := a.store.PutUint(NonceFloorKey, parsed); err != nil {
			a.logger.Warn("Failed to persist nonce floor %d: %v", parsed, err)
		}
	}
	return true
}

func tokenEqual(presented, configured string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
