package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

const (
	tableWidth    = 185.0
	tableFontSize = 8.0
	tableLineHt   = 4.0
	maxCellLines  = 6
	pageBottom    = 297.0 - 15.0 // A4 height minus margin
)

// Service renders job match digests as PDF reports.
type Service struct {
	logger arbor.ILogger
}

// Compile-time assertion
var _ interfaces.PDFService = (*Service)(nil)

// NewService creates a new PDF report service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
	}
}

// BuildMatchReport renders matches into a tabular A4 report. Matches render
// in the order given; the caller decides sorting.
func (s *Service) BuildMatchReport(title string, generatedAt time.Time, matches []*models.JobMatch) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.SetTitle(title, true)
	pdf.AddPage()

	b := &reportBuilder{pdf: pdf}
	b.header(title, generatedAt, matches)
	b.table(matchRows(matches))
	b.highlights(matches)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate match report PDF")
		return nil, fmt.Errorf("failed to generate match report PDF: %w", err)
	}

	s.logger.Debug().
		Int("pdf_size", buf.Len()).
		Int("matches", len(matches)).
		Msg("Match report PDF generated")
	return buf.Bytes(), nil
}

// matchRows flattens matches into table rows, header first.
func matchRows(matches []*models.JobMatch) [][]string {
	rows := [][]string{{"Score", "Priority", "Role", "Company", "Matched Skills", "Scored"}}
	for _, m := range matches {
		rows = append(rows, []string{
			fmt.Sprintf("%d", m.Score),
			string(m.Priority),
			m.Title,
			m.Company.Name,
			strings.Join(m.MatchedSkills, ", "),
			m.ScoredAt.UTC().Format("Jan 2 15:04"),
		})
	}
	return rows
}

type reportBuilder struct {
	pdf *fpdf.Fpdf
}

func (b *reportBuilder) header(title string, generatedAt time.Time, matches []*models.JobMatch) {
	b.pdf.SetFont("Arial", "B", 14)
	b.pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")

	high := 0
	for _, m := range matches {
		if m.Priority == models.PriorityHigh {
			high++
		}
	}

	b.pdf.SetFont("Arial", "", 9)
	b.pdf.SetTextColor(90, 90, 90)
	sub := fmt.Sprintf("Generated %s / %d matches, %d high priority",
		generatedAt.UTC().Format("2006-01-02 15:04 UTC"), len(matches), high)
	b.pdf.CellFormat(0, 5, sub, "", 1, "L", false, 0, "")
	b.pdf.SetTextColor(0, 0, 0)
	b.pdf.Ln(3)
}

// table renders rows as a bordered grid with a filled header row. Cell text
// wraps on measured string widths and rows never split across a page.
func (b *reportBuilder) table(rows [][]string) {
	if len(rows) < 2 {
		b.pdf.SetFont("Arial", "I", 9)
		b.pdf.CellFormat(0, 5, "No new matches in this period.", "", 1, "L", false, 0, "")
		return
	}

	numCols := len(rows[0])
	widths := b.columnWidths(rows, numCols)

	for i, row := range rows {
		if i == 0 {
			b.pdf.SetFont("Arial", "B", tableFontSize)
			b.pdf.SetFillColor(230, 230, 230)
		} else {
			b.pdf.SetFont("Arial", "", tableFontSize)
			b.pdf.SetFillColor(255, 255, 255)
		}

		maxLines := 1
		for j, cell := range row {
			if j >= numCols {
				break
			}
			if n := b.linesNeeded(cell, widths[j]-2); n > maxLines {
				maxLines = n
			}
		}
		if maxLines > maxCellLines {
			maxLines = maxCellLines
		}

		rowHeight := float64(maxLines)*tableLineHt + 2
		startX := b.pdf.GetX()
		startY := b.pdf.GetY()

		if startY+rowHeight > pageBottom {
			b.pdf.AddPage()
			startY = b.pdf.GetY()
		}

		x := startX
		for j, cell := range row {
			if j >= numCols {
				break
			}
			if i == 0 {
				b.pdf.Rect(x, startY, widths[j], rowHeight, "FD")
			} else {
				b.pdf.Rect(x, startY, widths[j], rowHeight, "D")
			}
			b.pdf.SetXY(x+1, startY+1)
			b.cellText(cell, widths[j]-2, maxLines)
			x += widths[j]
		}

		b.pdf.SetXY(startX, startY+rowHeight)
	}

	b.pdf.Ln(3)
}

// highlights prints a detail block per high priority match so the reasoning
// survives the table's line clamp.
func (b *reportBuilder) highlights(matches []*models.JobMatch) {
	var high []*models.JobMatch
	for _, m := range matches {
		if m.Priority == models.PriorityHigh {
			high = append(high, m)
		}
	}
	if len(high) == 0 {
		return
	}

	b.pdf.Ln(4)
	b.pdf.SetFont("Arial", "B", 12)
	b.pdf.CellFormat(0, 7, "High Priority", "", 1, "L", false, 0, "")

	for _, m := range high {
		b.pdf.Ln(2)
		b.pdf.SetFont("Arial", "B", 10)
		b.pdf.MultiCell(0, 5, fmt.Sprintf("%s / %s (score %d)", m.Title, m.Company.Name, m.Score), "", "L", false)

		b.pdf.SetFont("Courier", "", 8)
		b.pdf.MultiCell(0, 4, m.URL, "", "L", false)

		if m.Reasoning != "" {
			b.pdf.SetFont("Arial", "", 9)
			b.pdf.MultiCell(0, 4.5, m.Reasoning, "", "L", false)
		}
	}
}

// columnWidths sizes columns from measured content widths, clamps each to
// the min/max band, then scales the set toward the printable width.
func (b *reportBuilder) columnWidths(rows [][]string, numCols int) []float64 {
	widths := make([]float64, numCols)

	b.pdf.SetFont("Arial", "", tableFontSize)
	for _, row := range rows {
		for j, cell := range row {
			if j >= numCols {
				break
			}
			if w := b.pdf.GetStringWidth(cell) + 4; w > widths[j] {
				widths[j] = w
			}
		}
	}

	// Header row renders bold and measures wider
	b.pdf.SetFont("Arial", "B", tableFontSize)
	for j, cell := range rows[0] {
		if j >= numCols {
			break
		}
		if w := b.pdf.GetStringWidth(cell) + 4; w > widths[j] {
			widths[j] = w
		}
	}

	const minWidth = 12.0
	maxWidth := tableWidth / 3.0
	for j := range widths {
		if widths[j] < minWidth {
			widths[j] = minWidth
		}
		if widths[j] > maxWidth {
			widths[j] = maxWidth
		}
	}

	total := 0.0
	for _, w := range widths {
		total += w
	}

	switch {
	case total > tableWidth:
		scale := tableWidth / total
		for j := range widths {
			widths[j] *= scale
		}
	case total < tableWidth*0.9:
		// Spread narrow tables out, but not absurdly
		scale := tableWidth / total
		if scale > 1.5 {
			scale = 1.5
		}
		for j := range widths {
			widths[j] *= scale
		}
	}

	return widths
}

// linesNeeded counts wrapped lines for text at the current font using
// measured string widths.
func (b *reportBuilder) linesNeeded(text string, width float64) int {
	if text == "" || width <= 0 {
		return 1
	}

	lines := 1
	lineWidth := 0.0
	space := b.pdf.GetStringWidth(" ")

	for _, word := range strings.Fields(text) {
		w := b.pdf.GetStringWidth(word)
		switch {
		case lineWidth == 0:
			lineWidth = w
		case lineWidth+space+w <= width:
			lineWidth += space + w
		default:
			lines++
			lineWidth = w
		}
	}
	return lines
}

// cellText word-wraps text into the cell, truncating the last permitted
// line with an ellipsis when content overflows maxLines.
func (b *reportBuilder) cellText(text string, width float64, maxLines int) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return
	}

	var lines []string
	current := ""
	lineWidth := 0.0
	space := b.pdf.GetStringWidth(" ")

	for _, word := range words {
		w := b.pdf.GetStringWidth(word)
		switch {
		case current == "":
			current, lineWidth = word, w
		case lineWidth+space+w <= width:
			current += " " + word
			lineWidth += space + w
		default:
			lines = append(lines, current)
			current, lineWidth = word, w
		}
	}
	lines = append(lines, current)

	for i := 0; i < len(lines) && i < maxLines; i++ {
		line := lines[i]
		if i == maxLines-1 && len(lines) > maxLines {
			for b.pdf.GetStringWidth(line+"...") > width && len(line) > 3 {
				line = line[:len(line)-1]
			}
			line += "..."
		}
		b.pdf.CellFormat(width, tableLineHt, line, "", 2, "L", false, 0, "")
	}
}
