package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// ExtractFromHTML extracts proxies from an HTML page using the default
// extractor.
func ExtractFromHTML(r io.Reader, limit int) ([]proxy.Proxy, error) {
	return (&Extractor{}).ExtractFromHTML(r, limit)
}

// ExtractFromHTML flattens table rows into "cell cell ..." lines, so a row of
// <td>ip</td><td>port</td> reads as the "ip port" shape, then appends the
// remaining page text and runs ExtractProxies over the result.
func (e *Extractor) ExtractFromHTML(r io.Reader, limit int) ([]proxy.Proxy, error) {
	text, err := HTMLText(r)
	if err != nil {
		return nil, err
	}
	return e.ExtractProxies(text, limit), nil
}

// HTMLText renders an HTML document into parser friendly text
func HTMLText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			if text := strings.TrimSpace(cell.Text()); text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) > 0 {
			b.WriteString(strings.Join(cells, " "))
			b.WriteByte('\n')
		}
	})

	doc.Find("table").Remove()
	doc.Find("br, p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	b.WriteString(doc.Text())
	return b.String(), nil
}
