package interfaces

import (
	"time"

	"github.com/ternarybob/peto/internal/models"
)

// PDFService renders report attachments for digest delivery
type PDFService interface {
	// BuildMatchReport renders matches into a tabular PDF byte slice
	BuildMatchReport(title string, generatedAt time.Time, matches []*models.JobMatch) ([]byte, error)
}
