// Package protocol defines how chat text maps onto characteristic values.
//
// A message is its raw UTF-8 bytes: no length prefix, no framing. One
// message is one characteristic write, and segmentation is left to the ATT
// layer underneath.
package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxAttributeLen is the largest attribute value ATT allows (Bluetooth Core Vol 3,
// Part F, 3.2.9). Longer values cannot be written in one operation.
const MaxAttributeLen = 512

var (
	// ErrInvalidText is returned for text that is not valid UTF-8.
	ErrInvalidText = errors.New("protocol: text is not valid UTF-8")
	// ErrTooLarge is returned for text whose encoding exceeds the write limit.
	ErrTooLarge = errors.New("protocol: payload exceeds write limit")
)

// EncodeText returns the wire form of text. max bounds the encoded length;
// zero or a negative value means MaxAttributeLen.
func EncodeText(text string, max int) ([]byte, error) {
	if max <= 0 || max > MaxAttributeLen {
		max = MaxAttributeLen
	}
	if !utf8.ValidString(text) {
		return nil, ErrInvalidText
	}
	if len(text) > max {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(text), max)
	}
	return []byte(text), nil
}

// Cut returns the longest prefix of text that fits in maxBytes without
// splitting a UTF-8 character.
func Cut(text string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(text) <= maxBytes {
		return text
	}
	split := maxBytes
	// Walk back until we're at the start of a rune.
	for split > 0 && !utf8.RuneStart(text[split]) {
		split--
	}
	return text[:split]
}
