// Package qr renders pairing QR payloads for terminal display and for
// export as an embeddable PNG.
package qr

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const pngSize = 256

// Terminal renders the payload as a compact block-character QR code
// suitable for printing to a terminal.
func Terminal(payload string) (string, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generate qr code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

// PNGBase64 renders the payload as a 256px PNG and returns it base64
// encoded, ready for a data URI.
func PNGBase64(payload string) (string, error) {
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("generate qr code: %w", err)
	}
	png, err := qr.PNG(pngSize)
	if err != nil {
		return "", fmt.Errorf("encode qr png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
