package pdf

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Color represents an RGB color
type Color struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// Margins represents page margins in millimetres
type Margins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Options configures document generation
type Options struct {
	Title          string    `json:"title"`
	Subtitle       string    `json:"subtitle,omitempty"`
	Author         string    `json:"author,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
	FontFamily     string    `json:"font_family"`
	FontSize       float64   `json:"font_size"`
	TitleFontSize  float64   `json:"title_font_size"`
	HeaderColor    Color     `json:"header_color"`
	AlternateColor Color     `json:"alternate_color"`
	Margins        Margins   `json:"margins"`
}

// DefaultOptions returns A4 portrait defaults
func DefaultOptions(title string) Options {
	return Options{
		Title:          title,
		GeneratedAt:    time.Now().UTC(),
		FontFamily:     "Arial",
		FontSize:       10,
		TitleFontSize:  16,
		HeaderColor:    Color{R: 68, G: 114, B: 196},
		AlternateColor: Color{R: 242, G: 242, B: 242},
		Margins:        Margins{Left: 15, Right: 15, Top: 20, Bottom: 20},
	}
}

// Document is a single-column report made of sections, field lists, paragraphs and tables
type Document struct {
	pdf     *gofpdf.Fpdf
	options Options
	tr      func(string) string
}

// New starts a document with its title block on the first page
func New(options Options) *Document {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(true, options.Margins.Bottom)
	pdf.SetTitle(options.Title, true)
	if options.Author != "" {
		pdf.SetAuthor(options.Author, true)
	}
	pdf.AliasNbPages("")

	d := &Document{
		pdf:     pdf,
		options: options,
		tr:      pdf.UnicodeTranslatorFromDescriptor(""),
	}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(options.FontFamily, "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont(options.FontFamily, "B", options.TitleFontSize)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, d.tr(options.Title), "", 1, "C", false, 0, "")
	if options.Subtitle != "" {
		pdf.SetFont(options.FontFamily, "", options.FontSize+2)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 8, d.tr(options.Subtitle), "", 1, "C", false, 0, "")
	}
	if !options.GeneratedAt.IsZero() {
		pdf.SetFont(options.FontFamily, "", 9)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 6, "Generated: "+options.GeneratedAt.Format("2006-01-02 15:04 MST"), "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)
	return d
}

// Section starts a titled block
func (d *Document) Section(title string) {
	d.pdf.Ln(4)
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize+2)
	d.pdf.SetTextColor(d.options.HeaderColor.R, d.options.HeaderColor.G, d.options.HeaderColor.B)
	d.pdf.CellFormat(0, 8, d.tr(title), "B", 1, "L", false, 0, "")
	d.pdf.Ln(2)
}

// Field is one label/value line
type Field struct {
	Label string
	Value string
}

// Fields writes label/value pairs, skipping empty values
func (d *Document) Fields(fields ...Field) {
	for _, f := range fields {
		if f.Value == "" {
			continue
		}
		d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize)
		d.pdf.SetTextColor(0, 0, 0)
		d.pdf.CellFormat(45, 6, d.tr(f.Label), "", 0, "L", false, 0, "")
		d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
		d.pdf.MultiCell(0, 6, d.tr(f.Value), "", "L", false)
	}
}

// Paragraph writes wrapped text
func (d *Document) Paragraph(text string) {
	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.MultiCell(0, 5, d.tr(text), "", "L", false)
	d.pdf.Ln(2)
}

// Table writes a header row and data rows. Widths are relative and scaled to the page.
func (d *Document) Table(headers []string, widths []float64, rows [][]string) {
	pageWidth, _ := d.pdf.GetPageSize()
	usable := pageWidth - d.options.Margins.Left - d.options.Margins.Right
	cols := scale(widths, len(headers), usable)

	d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize)
	d.pdf.SetFillColor(d.options.HeaderColor.R, d.options.HeaderColor.G, d.options.HeaderColor.B)
	d.pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		d.pdf.CellFormat(cols[i], 7, d.tr(h), "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)

	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize-1)
	d.pdf.SetTextColor(0, 0, 0)
	for r, row := range rows {
		fill := r%2 == 1
		if fill {
			d.pdf.SetFillColor(d.options.AlternateColor.R, d.options.AlternateColor.G, d.options.AlternateColor.B)
		}
		for i := range headers {
			value := ""
			if i < len(row) {
				value = truncate(d.pdf, d.tr(row[i]), cols[i]-2)
			}
			d.pdf.CellFormat(cols[i], 6, value, "1", 0, "L", fill, 0, "")
		}
		d.pdf.Ln(-1)
	}
	d.pdf.Ln(2)
}

// Bytes renders the document
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func scale(widths []float64, n int, usable float64) []float64 {
	out := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		w := 1.0
		if i < len(widths) && widths[i] > 0 {
			w = widths[i]
		}
		out[i] = w
		total += w
	}
	for i := range out {
		out[i] = out[i] / total * usable
	}
	return out
}

func truncate(pdf *gofpdf.Fpdf, s string, width float64) string {
	if pdf.GetStringWidth(s) <= width {
		return s
	}
	for len(s) > 0 && pdf.GetStringWidth(s+"...") > width {
		s = s[:len(s)-1]
	}
	return s + "..."
}
