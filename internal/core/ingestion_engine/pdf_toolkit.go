package ingestion_engine

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFToolkit holds the PDF operations the extractor needs. Pages are 1-based and inclusive.
type PDFToolkit interface {
	Unlock(data []byte) ([]byte, error)
	PageCount(data []byte) (int, error)
	ExtractPages(data []byte, first, last int) ([]byte, error)
}

var disableConfigDir sync.Once

// pdfcpuToolkit uses pdfcpu for decryption and page selection and ledongthuc/pdf for counting pages.
type pdfcpuToolkit struct{}

func NewPDFToolkit() PDFToolkit {
	disableConfigDir.Do(api.DisableConfigDir)
	return pdfcpuToolkit{}
}

// conf returns a fresh configuration; pdfcpu mutates it during a command.
func (pdfcpuToolkit) conf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Unlock removes password-less encryption; it fails on documents that are not encrypted.
func (t pdfcpuToolkit) Unlock(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &out, t.conf()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (t pdfcpuToolkit) PageCount(data []byte) (n int, err error) {
	if n, err = countPages(data); err == nil && n > 0 {
		return n, nil
	}
	return api.PageCount(bytes.NewReader(data), t.conf())
}

// countPages reads the page tree with ledongthuc/pdf, which panics on some malformed files.
func countPages(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func (t pdfcpuToolkit) ExtractPages(data []byte, first, last int) ([]byte, error) {
	var out bytes.Buffer
	sel := []string{fmt.Sprintf("%d-%d", first, last)}
	if err := api.Trim(bytes.NewReader(data), &out, sel, t.conf()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
