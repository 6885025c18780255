package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
)

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	// Invoices are single page; the date is on the first one
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte) ([]byte, error) {
	var img image.Image
	var err error

	// iPhones save HEIC even when the upload is named .jpg
	if isHEICFormat(imageData) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isPNGFormat(data []byte) bool {
	return bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n"))
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// loadPNG reads the file at path and returns it as PNG, converting PDFs and
// other image formats as needed. Conversion failures are CodeUnsupportedImage.
func loadPNG(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newRecognitionError(CodeEngine, "reading image: %w", err)
	}

	if isPDF(path) {
		pngData, err := pdfToImage(data)
		if err != nil {
			return nil, newRecognitionError(CodeUnsupportedImage, "converting PDF to image: %w", err)
		}
		return pngData, nil
	}

	if isPNGFormat(data) {
		return data, nil
	}

	pngData, err := imageToPNG(data)
	if err != nil {
		return nil, newRecognitionError(CodeUnsupportedImage, "converting image to PNG: %w", err)
	}
	return pngData, nil
}

// needsConversion reports whether Tesseract cannot read the file at path
// directly. It only sniffs the first bytes of non-PDF files.
func needsConversion(path string) (bool, error) {
	if isPDF(path) {
		return true, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, newRecognitionError(CodeEngine, "opening image: %w", err)
	}
	defer f.Close()

	head := make([]byte, 12)
	n, _ := f.Read(head)
	return isHEICFormat(head[:n]), nil
}
