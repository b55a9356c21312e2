package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// Parser extracts per-page text and geometry from PDF bytes.
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func (p *Parser) Parse(ctx context.Context, data []byte) (pages []domain.Page, err error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.WrapError(domain.ErrParse, "parse pdf", errors.New("empty file"))
	}

	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = domain.WrapError(domain.ErrParse, "parse pdf", fmt.Errorf("reader panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.ErrParse, "parse pdf", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, domain.WrapError(domain.ErrParse, "parse pdf", errors.New("document has no pages"))
	}
	p.crossCheckPageCount(data, total)

	pages = make([]domain.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, domain.Page{Number: i})
			continue
		}

		text, textErr := page.GetPlainText(nil)
		if textErr != nil {
			p.logger.Warn("pdf_page_text_failed", "page", i, "error", textErr)
			text = ""
		}
		width, height := pageSize(page.V)
		pages = append(pages, domain.Page{
			Number:   i,
			Text:     normalizeText(text),
			Width:    width,
			Height:   height,
			Rotation: pageRotation(page.V),
		})
	}
	return pages, nil
}

func (p *Parser) crossCheckPageCount(data []byte, expected int) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		p.logger.Debug("pdfcpu_page_count_failed", "error", err)
		return
	}
	if count != expected {
		p.logger.Warn("pdf_page_count_mismatch", "reader_pages", expected, "pdfcpu_pages", count)
	}
}

// pageSize reads MediaBox, walking up the page tree when it is inherited.
func pageSize(v pdf.Value) (float64, float64) {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		box := node.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() < 4 {
			continue
		}
		width := box.Index(2).Float64() - box.Index(0).Float64()
		height := box.Index(3).Float64() - box.Index(1).Float64()
		if width < 0 {
			width = -width
		}
		if height < 0 {
			height = -height
		}
		return width, height
	}
	return 0, 0
}

func pageRotation(v pdf.Value) int {
	for node := v; !node.IsNull(); node = node.Key("Parent") {
		rotate := node.Key("Rotate")
		if rotate.Kind() == pdf.Integer {
			return normalizeRotation(int(rotate.Int64()))
		}
	}
	return 0
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

func normalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
