package service

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// extractTransactionHash derives a transaction identifier from the signed
// bag-of-cells the wallet returned. The canonical path is the root cell's
// representation hash. When the payload does not parse, the function
// degrades to a uniqueness-only identifier instead of failing, so the
// payment flow always has something stable to record.
func extractTransactionHash(signedBOC string) string {
	raw, err := base64.StdEncoding.DecodeString(signedBOC)
	if err != nil {
		log.Warn().Err(err).Msg("Signed payload is not base64, deriving fallback hash")
		return fallbackTransactionHash([]byte(signedBOC))
	}
	root, err := cell.FromBOC(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Signed payload is not a parsable BoC, deriving fallback hash")
		return fallbackTransactionHash(raw)
	}
	return hex.EncodeToString(root.Hash())
}

// fallbackTransactionHash is hex of the payload's first 16 bytes plus a hex
// timestamp. It is NOT a verifiable on-chain hash and must never be treated
// as one; it only keeps downstream bookkeeping unique.
func fallbackTransactionHash(raw []byte) string {
	head := raw
	if len(head) > 16 {
		head = head[:16]
	}
	return fmt.Sprintf("%x%x", head, time.Now().UnixMilli())
}
