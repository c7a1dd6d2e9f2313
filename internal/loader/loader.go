package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/parser"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// LoadProxies loads proxy candidates from a file using the default extractor
func LoadProxies(filename string, limit int) ([]proxy.Proxy, error) {
	return LoadProxiesWithExtractor(filename, limit, &parser.Extractor{})
}

// LoadProxiesWithExtractor loads proxy candidates with a custom extractor.
// Files ending in .html or .htm are read as HTML proxy tables; anything else
// is treated as free text. Lines starting with # are comments.
func LoadProxiesWithExtractor(filename string, limit int, extractor *parser.Extractor) ([]proxy.Proxy, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, errors.NewFileError(errors.ErrorFileNotFound, "proxy file not found", filename, err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewFileError(errors.ErrorFileReadFailed, "failed to read proxy file", filename, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewFileError(errors.ErrorFileEmpty, "proxy file is empty", filename, nil)
	}

	var proxies []proxy.Proxy
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		proxies, err = extractor.ExtractFromHTML(bytes.NewReader(data), limit)
		if err != nil {
			return nil, errors.NewFileError(errors.ErrorFileInvalidFormat, "failed to parse html proxy file", filename, err)
		}
	default:
		proxies = extractor.ExtractProxies(stripComments(string(data)), limit)
	}

	if len(proxies) == 0 {
		return nil, errors.NewFileError(errors.ErrorFileInvalidFormat, "no valid proxies found in file", filename, nil).
			WithDetail("bytes_read", len(data))
	}

	return proxies, nil
}

func stripComments(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
