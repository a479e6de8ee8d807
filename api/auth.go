package api

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

const (
	SignatureHeader = "X-Signature"
	NonceHeader     = "X-Nonce"
	CallerHeader    = "X-Caller"

	callerKey = "caller"
)

// SigningMessage is what a caller signs: the request line, the nonce and
// the raw body. The path carries the proposal id of per-proposal routes.
func SigningMessage(method, path string, nonce uint64, body []byte) []byte {
	head := fmt.Sprintf("%s %s\nnonce: %d\n", method, path, nonce)
	return append([]byte(head), body...)
}

var ErrInvalidSignature = errors.New("INVALID_SIGNATURE")

// authenticate checks that the declared caller produced the EIP-191
// personal signature over SigningMessage and consumes the caller's nonce.
func (s *Server) authenticate(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abort(c, http.StatusBadRequest, errors.Wrap(err, "read body"))
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	sig, err := hexutil.Decode(c.GetHeader(SignatureHeader))
	if err != nil {
		abort(c, http.StatusUnauthorized, errors.Wrapf(err, "decode %s", SignatureHeader))
		return
	}
	nonce, err := strconv.ParseUint(c.GetHeader(NonceHeader), 10, 64)
	if err != nil {
		abort(c, http.StatusUnauthorized, errors.Wrapf(ErrInvalidNonce, "parse %s: %s", NonceHeader, err))
		return
	}

	declared := c.GetHeader(CallerHeader)
	if !common.IsHexAddress(declared) {
		abort(c, http.StatusUnauthorized, errors.Wrapf(ErrInvalidSignature, "%s %q is not an address", CallerHeader, declared))
		return
	}

	caller, err := RecoverCaller(SigningMessage(c.Request.Method, c.Request.URL.Path, nonce, body), sig)
	if err != nil {
		abort(c, http.StatusUnauthorized, errors.Wrapf(ErrInvalidSignature, "%s", err))
		return
	}
	if caller != common.HexToAddress(declared) {
		abort(c, http.StatusUnauthorized, errors.Wrapf(ErrInvalidSignature, "signed by %s, not %s", caller, declared))
		return
	}
	if err := s.nonces.Use(caller, nonce); err != nil {
		abort(c, http.StatusUnauthorized, err)
		return
	}

	c.Set(callerKey, caller)
	c.Next()
}

// RecoverCaller returns the account that signed msg.
func RecoverCaller(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	sig = common.CopyBytes(sig)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recover signer")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignRequest produces the signature header value for a request.
func SignRequest(method, path string, nonce uint64, body []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(SigningMessage(method, path, nonce, body)), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func callerOf(c *gin.Context) common.Address {
	return c.MustGet(callerKey).(common.Address)
}
