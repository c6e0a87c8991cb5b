package main

import (
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/rachelsunqh/secure-block-device/internal/base"
)

// parseVariantAndKey turns the --variant/--key-hex flag pair every subcommand
// shares into the types sbd.Options expects.
func parseVariantAndKey(variant, keyHex string) (base.CryptoVariant, []byte, error) {
	var v base.CryptoVariant
	switch strings.ToLower(variant) {
	case "none", "":
		v = base.CryptoNone
	case "siv":
		v = base.CryptoSIV
	case "hmac":
		v = base.CryptoHMAC
	default:
		return 0, nil, errors.Newf("sbdcheck: unknown --variant %q (want none|siv|hmac)", variant)
	}
	if keyHex == "" {
		return v, nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return 0, nil, errors.Wrap(err, "sbdcheck: decoding --key-hex")
	}
	return v, key, nil
}
