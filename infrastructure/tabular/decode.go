// Package tabular decodes uploaded spreadsheet exports into CSV records.
// It handles byte-order marks, delimiter detection and lenient quoting;
// mapping columns onto fields is left to the normalize package.
package tabular

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ahrav/go-anthro/internal/domain"
)

// Decode returns the payload as UTF-8 text. A UTF-8 BOM is stripped and a
// UTF-16 payload carrying a BOM is transcoded. Anything else must already be
// valid UTF-8.
func Decode(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", domain.ErrEmptyPayload
	}

	dec := unicode.BOMOverride(transform.Nop)
	out, _, err := transform.Bytes(dec, payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUndecodablePayload, err)
	}
	if !utf8.Valid(out) {
		return "", domain.ErrUndecodablePayload
	}
	if len(bytes.TrimSpace(out)) == 0 {
		return "", domain.ErrNoData
	}
	return string(out), nil
}
