package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/dslipak/pdf"
	"github.com/lu4p/cat"
)

type rawPage struct {
	Number  int
	Content string
}

var errPageTimeout = errors.New("page extraction timed out")

// getDocType prefers the file extension and falls back to sniffing the bytes.
func getDocType(name string, data []byte) commonModels.DocType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return commonModels.PDF
	case ".docx", ".odt", ".rtf":
		return commonModels.DOCX
	case ".txt", ".md", ".text":
		return commonModels.TXT
	}
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return commonModels.PDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")), bytes.HasPrefix(data, []byte("{\\rtf")):
		return commonModels.DOCX
	case len(data) > 0 && utf8.Valid(data):
		return commonModels.TXT
	}
	return commonModels.ERR
}

func extractText(ctx context.Context, data []byte, docType commonModels.DocType) (pages []rawPage, err error) {
	const op = "ingest.extract"
	// the parsers panic on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = ragErrors.E(ragErrors.CodeCorruptDocument, op, fmt.Errorf("parser panic: %v", r))
		}
	}()

	switch docType {
	case commonModels.PDF:
		pages, err = extractPDF(ctx, data)
	case commonModels.DOCX:
		pages, err = extractDocument(data)
	case commonModels.TXT:
		pages = extractPlainText(data)
	default:
		return nil, ragErrors.E(ragErrors.CodeUnsupportedContent, op, fmt.Errorf("content type %q", docType))
	}
	if err != nil {
		if ragErrors.CodeOf(err) == ragErrors.CodeCanceled {
			return nil, err
		}
		return nil, ragErrors.E(ragErrors.CodeCorruptDocument, op, err)
	}
	return pages, nil
}

func extractPDF(ctx context.Context, data []byte) ([]rawPage, error) {
	f, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []rawPage
	numPages := f.NumPage()
	logger.WithTrace(ctx).Debug("extractPDF", "number of pages", numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, ragErrors.E(ragErrors.CodeCanceled, "ingest.extractPDF", err)
		}
		page := f.Page(i)
		if page.V.IsNull() {
			continue
		}

		content, err := protectExtract(ctx, page)
		if err != nil {
			// one unreadable page does not sink the document
			logger.WithTrace(ctx).Warn("Error parsing page content", "page", i, "error", err)
			continue
		}
		pages = append(pages, rawPage{Number: i, Content: content})
	}
	if numPages > 0 && len(pages) == 0 {
		return nil, errors.New("no readable pages")
	}
	return pages, nil
}

// extractDocument reads .odt, .docx and .rtf. These formats carry no reliable page
// boundaries, so the whole text is page 1.
func extractDocument(data []byte) ([]rawPage, error) {
	text, err := cat.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to extract document: %w", err)
	}
	return []rawPage{{Number: 1, Content: text}}, nil
}

// extractPlainText treats form feeds as page breaks.
func extractPlainText(data []byte) []rawPage {
	parts := strings.Split(string(data), "\f")
	pages := make([]rawPage, 0, len(parts))
	for i, p := range parts {
		pages = append(pages, rawPage{Number: i + 1, Content: p})
	}
	return pages
}

func protectExtract(ctx context.Context, page pdf.Page) (string, error) {
	type result struct {
		content string
		err     error
	}
	resChan := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resChan <- result{err: fmt.Errorf("page parser panic: %v", r)}
			}
		}()
		content, err := page.GetPlainText(nil)
		resChan <- result{content, err}
	}()

	timer := time.NewTimer(config.PageExtractTimeout)
	defer timer.Stop()
	select {
	case r := <-resChan:
		return r.content, r.err
	case <-timer.C:
		return "", errPageTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
