package pdfops

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Info describes a document before it is transformed.
type Info struct {
	Size      int64
	Pages     int
	Encrypted bool
}

// Inspect reads path with pdfcpu. Empty files are reported with Size 0 and no
// error. Documents that need a password report Encrypted instead of failing.
func Inspect(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, classifyIO("stat", path, err)
	}
	info := Info{Size: st.Size()}
	if info.Size == 0 {
		return info, nil
	}

	ctx, err := api.ReadContextFile(path)
	if err != nil {
		if looksEncrypted(err) {
			info.Encrypted = true
			return info, nil
		}
		return info, fmt.Errorf("%w: '%s': %w", ErrInvalidPDF, path, err)
	}
	if ctx.XRefTable.Encrypt != nil {
		info.Encrypted = true
	}
	if err := ctx.EnsurePageCount(); err == nil {
		info.Pages = ctx.PageCount
	}
	return info, nil
}

func looksEncrypted(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password") || strings.Contains(msg, "encrypt")
}

// PageCount returns the number of pages in path using a lightweight reader that
// does not validate the whole document.
func PageCount(path string) (n int, err error) {
	defer func() {
		// The reader panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: '%s': %v", ErrInvalidPDF, path, r)
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
			return 0, classifyIO("open", path, err)
		}
		return 0, fmt.Errorf("%w: '%s': %w", ErrInvalidPDF, path, err)
	}
	defer f.Close()
	return r.NumPage(), nil
}
