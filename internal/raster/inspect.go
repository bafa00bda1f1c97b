package raster

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Inspector validates a PDF and reports its page count.
type Inspector interface {
	PageCount(data []byte) (int, error)
}

// PDFCPUInspector inspects documents with pdfcpu in relaxed validation mode,
// which accepts the slightly broken PDFs office scanners tend to produce.
type PDFCPUInspector struct{}

var disableConfigDir sync.Once

func (PDFCPUInspector) PageCount(data []byte) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return n, nil
}

// hasPDFSignature looks for the %PDF- header within the first KiB, where
// readers are required to accept it.
func hasPDFSignature(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}
