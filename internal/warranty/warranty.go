package warranty

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/warrantyocr/warranty-ocr/internal/validation"
)

// Warranty is a warranty claim submitted by an installer together with the
// invoice that proves the installation date
type Warranty struct {
	ID               string             `json:"id"`
	SerialNumber     string             `json:"serial_number"`
	ProductModel     string             `json:"product_model"`
	InstallerID      string             `json:"installer_id"`
	InstallationDate civil.Date         `json:"installation_date"`
	InvoicePath      string             `json:"invoice_path"` // Name of the invoice in storage
	ContentType      string             `json:"content_type"`
	Status           validation.Status  `json:"status"`
	Validation       *validation.Result `json:"validation,omitempty"` // Latest OCR validation
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Submission is the input for creating a warranty
type Submission struct {
	Filename         string
	Data             []byte
	ContentType      string
	SerialNumber     string
	ProductModel     string
	InstallerID      string
	InstallationDate civil.Date
}
