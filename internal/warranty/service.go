package warranty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/warrantyocr/warranty-ocr/internal/validation"
)

var (
	// ErrInvalidSubmission is returned when a submission is missing required data
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrInvalidStatus is returned when setting an unknown status
	ErrInvalidStatus = errors.New("invalid status")
)

// Validator checks an invoice image against a claimed installation date
type Validator interface {
	ValidateWarrantyByOCR(ctx context.Context, imagePath string, installation civil.Date) validation.Result
}

// IDGenerator generates unique IDs for warranties
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles warranty operations
type Service struct {
	db          DB
	validator   Validator
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, validator Validator, storage Storage) *Service {
	return NewServiceWithDeps(db, validator, storage, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, validator Validator, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		validator:   validator,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	reUnsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = reUnsafeChars.ReplaceAllString(base, "")
	base = reSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	if reUnsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}

	return base + ext
}

// Submit stores the invoice, validates it against the installation date and
// saves the warranty with the resulting status. A validation that cannot
// decide leaves the warranty IN_PROGRESS; it never blocks creation.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Warranty, error) {
	if len(sub.Data) == 0 {
		return nil, fmt.Errorf("%w: invoice file is required", ErrInvalidSubmission)
	}
	if !sub.InstallationDate.IsValid() {
		return nil, fmt.Errorf("%w: installation date is required", ErrInvalidSubmission)
	}
	if strings.TrimSpace(sub.SerialNumber) == "" {
		return nil, fmt.Errorf("%w: serial number is required", ErrInvalidSubmission)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(sub.Filename)), sub.Data)
	if err != nil {
		return nil, fmt.Errorf("saving invoice: %w", err)
	}

	result := s.validator.ValidateWarrantyByOCR(ctx, s.storage.Path(savedName), sub.InstallationDate)
	if result.Error != "" {
		slog.Warn("Invoice validation inconclusive",
			"id", id,
			"filename", sub.Filename,
			"error", result.Error,
		)
	}

	w := &Warranty{
		ID:               id,
		SerialNumber:     strings.TrimSpace(sub.SerialNumber),
		ProductModel:     strings.TrimSpace(sub.ProductModel),
		InstallerID:      strings.TrimSpace(sub.InstallerID),
		InstallationDate: sub.InstallationDate,
		InvoicePath:      savedName,
		ContentType:      sub.ContentType,
		Status:           result.Status,
		Validation:       &result,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.SaveWarranty(w); err != nil {
		if derr := s.storage.Delete(savedName); derr != nil {
			slog.Warn("Failed to delete invoice", "filename", savedName, "error", derr)
		}
		return nil, fmt.Errorf("saving warranty to database: %w", err)
	}

	slog.Info("Warranty submitted", "id", id, "status", w.Status)
	return w, nil
}

// Get retrieves a warranty by ID
func (s *Service) Get(id string) (*Warranty, error) {
	w, err := s.db.GetWarranty(id)
	if err != nil {
		return nil, fmt.Errorf("getting warranty: %w", err)
	}
	return w, nil
}

// List returns warranties newest first. An empty status returns all of them.
func (s *Service) List(status validation.Status) ([]*Warranty, error) {
	all, err := s.db.ListWarranties()
	if err != nil {
		return nil, fmt.Errorf("listing warranties: %w", err)
	}

	warranties := make([]*Warranty, 0, len(all))
	for _, w := range all {
		if status == "" || w.Status == status {
			warranties = append(warranties, w)
		}
	}
	sort.SliceStable(warranties, func(i, j int) bool {
		return warranties[i].CreatedAt.After(warranties[j].CreatedAt)
	})
	return warranties, nil
}

// Delete removes a warranty and its invoice
func (s *Service) Delete(id string) error {
	w, err := s.db.GetWarranty(id)
	if err != nil {
		return fmt.Errorf("getting warranty for deletion: %w", err)
	}

	if err := s.storage.Delete(w.InvoicePath); err != nil {
		slog.Warn("Failed to delete invoice", "filename", w.InvoicePath, "error", err)
	}

	if err := s.db.DeleteWarranty(id); err != nil {
		return fmt.Errorf("deleting warranty from database: %w", err)
	}
	return nil
}

// GetInvoice retrieves the invoice file of a warranty
func (s *Service) GetInvoice(id string) ([]byte, string, error) {
	w, err := s.db.GetWarranty(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting warranty: %w", err)
	}

	data, err := s.storage.Get(w.InvoicePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice file: %w", err)
	}

	return data, w.ContentType, nil
}

// Revalidate runs OCR validation again on the stored invoice and replaces the
// status with the new outcome.
func (s *Service) Revalidate(ctx context.Context, id string) (*Warranty, error) {
	w, err := s.db.GetWarranty(id)
	if err != nil {
		return nil, fmt.Errorf("getting warranty: %w", err)
	}

	result := s.validator.ValidateWarrantyByOCR(ctx, s.storage.Path(w.InvoicePath), w.InstallationDate)
	w.Status = result.Status
	w.Validation = &result
	w.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveWarranty(w); err != nil {
		return nil, fmt.Errorf("saving warranty: %w", err)
	}

	slog.Info("Warranty revalidated", "id", id, "status", w.Status)
	return w, nil
}

// SetStatus records a manual review decision. The last OCR validation is kept
// for reference.
func (s *Service) SetStatus(id string, status validation.Status) (*Warranty, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	w, err := s.db.GetWarranty(id)
	if err != nil {
		return nil, fmt.Errorf("getting warranty: %w", err)
	}

	w.Status = status
	w.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveWarranty(w); err != nil {
		return nil, fmt.Errorf("saving warranty: %w", err)
	}

	slog.Info("Warranty status set", "id", id, "status", status)
	return w, nil
}
