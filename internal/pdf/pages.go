// Package pdf provides page-level access to uploaded PDF files: page
// counting, per-page image rendering for OCR, and content checksums.
package pdf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCount returns the number of pages in the PDF at path.
func PageCount(path string) (int, error) {
	count, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages in %s: %w", path, err)
	}
	return count, nil
}

// Checksum returns the sha256 hex digest of the page image bytes. Matching
// checksums mean a stored OCR result can be reused without reprocessing.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Renderer renders single pages of a PDF to PNG bytes for OCR.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, pageNum int) ([]byte, error)
}

// TextReader extracts a page's embedded text layer. Pages that already
// carry a usable text layer skip OCR entirely.
type TextReader interface {
	PageText(ctx context.Context, pdfPath string, pageNum int) (string, error)
}

// PopplerRenderer renders pages with pdftoppm (poppler-utils). pdftoppm
// renders the page as displayed, unlike extracting embedded image objects
// whose internal numbering may not match page order.
type PopplerRenderer struct {
	// DPI for rendering (default 220, matches OCR quality needs).
	DPI int
}

// RenderPage renders one page to grayscale PNG bytes.
func (r *PopplerRenderer) RenderPage(ctx context.Context, pdfPath string, pageNum int) ([]byte, error) {
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 220
	}

	tmpDir, err := os.MkdirTemp("", "linkengine-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")

	pageStr := fmt.Sprintf("%d", pageNum)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-gray",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed for page %d: %w (output: %s)", pageNum, err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output for page %d: %w", pageNum, err)
	}
	return data, nil
}

// PageText extracts the embedded text layer of one page with pdftotext.
// Scanned pages yield empty or near-empty output.
func (r *PopplerRenderer) PageText(ctx context.Context, pdfPath string, pageNum int) (string, error) {
	pageStr := fmt.Sprintf("%d", pageNum)
	cmd := exec.CommandContext(ctx, "pdftotext",
		"-f", pageStr,
		"-l", pageStr,
		"-layout",
		pdfPath,
		"-",
	)

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed for page %d: %w", pageNum, err)
	}
	return string(output), nil
}
