package render

import (
	"bytes"
	"html"
	"strings"

	"github.com/adcondev/print-agent/internal/printjob"
)

// minHeaderMarginInches leaves room for header and footer templates.
const minHeaderMarginInches = 10 / 25.4

// printParams holds the parameters for PDF printing
type printParams struct {
	paperWidth          float64
	paperHeight         float64
	marginTop           float64
	marginRight         float64
	marginBottom        float64
	marginLeft          float64
	scale               float64
	landscape           bool
	printBackground     bool
	displayHeaderFooter bool
	headerTemplate      string
	footerTemplate      string
	pageRanges          string
	preferCSSPageSize   bool
}

// buildPrintParams maps job options onto Page.printToPDF parameters.
// Paper width and height stay zero when no size is declared.
func buildPrintParams(opts printjob.Options) printParams {
	p := printParams{
		scale:             opts.Scale(),
		landscape:         opts.Landscape,
		printBackground:   opts.PrintBackground,
		pageRanges:        string(opts.PageRanges),
		preferCSSPageSize: opts.PreferCSSPageSize,
	}

	if w, h, ok := opts.PageSize.Millimeters(); ok {
		p.paperWidth = mmToInches(w)
		p.paperHeight = mmToInches(h)
	}

	p.marginTop, p.marginRight, p.marginBottom, p.marginLeft = opts.Margins.Inches()

	header, footer := opts.HeaderTemplate, opts.FooterTemplate
	if header == "" && opts.Header != "" {
		header = textTemplate(opts.Header)
	}
	if footer == "" && opts.Footer != "" {
		footer = textTemplate(opts.Footer)
	}
	if opts.DisplayHeaderFooter || header != "" || footer != "" {
		p.displayHeaderFooter = true
		// An empty template would make Chromium print its default title/URL line.
		p.headerTemplate = orBlank(header)
		p.footerTemplate = orBlank(footer)
		if header != "" && p.marginTop < minHeaderMarginInches {
			p.marginTop = minHeaderMarginInches
		}
		if footer != "" && p.marginBottom < minHeaderMarginInches {
			p.marginBottom = minHeaderMarginInches
		}
	}
	return p
}

func textTemplate(text string) string {
	return `<div style="font-size:8px;width:100%;text-align:center;">` + html.EscapeString(text) + `</div>`
}

func orBlank(tpl string) string {
	if tpl == "" {
		return "<span></span>"
	}
	return tpl
}

// buildCompleteHTML wraps fragments in a full document.
func buildCompleteHTML(content string) string {
	lower := strings.ToLower(content)
	if strings.Contains(lower, "<!doctype") || strings.Contains(lower, "<html") {
		return content
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html><html><head>")
	buf.WriteString(`<meta charset="UTF-8">`)
	buf.WriteString("</head><body>")
	buf.WriteString(content)
	buf.WriteString("</body></html>")
	return buf.String()
}

// mmToInches converts millimeters to inches
func mmToInches(mm float64) float64 {
	return mm / 25.4
}
