package pdfextract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// ExtractText reads at most maxSize bytes from r and extracts the PDF's
// plain text. A PDF with no extractable text yields an empty string and no
// error; a document larger than maxSize is rejected.
func ExtractText(r io.Reader, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = 20 << 20
	}
	b, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read pdf bytes failed: %w", err)
	}
	if int64(len(b)) > maxSize {
		return "", fmt.Errorf("pdf exceeds %d byte limit", maxSize)
	}
	if len(b) == 0 {
		return "", nil
	}

	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return "", fmt.Errorf("read pdf text failed: %w", err)
	}
	return string(out), nil
}
