package printjob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Options are the rendering and device options a job may declare.
// The JSON keys follow the print APIs of the desktop shells that send them.
type Options struct {
	Silent              *bool      `json:"silent,omitempty"`
	Landscape           bool       `json:"landscape,omitempty"`
	PrintBackground     bool       `json:"printBackground,omitempty"`
	ScaleFactor         float64    `json:"scaleFactor,omitempty"`
	PageSize            PageSize   `json:"pageSize,omitempty"`
	Margins             Margins    `json:"margins,omitempty"`
	PageRanges          PageRanges `json:"pageRanges,omitempty"`
	DisplayHeaderFooter bool       `json:"displayHeaderFooter,omitempty"`
	HeaderTemplate      string     `json:"headerTemplate,omitempty"`
	FooterTemplate      string     `json:"footerTemplate,omitempty"`
	Header              string     `json:"header,omitempty"`
	Footer              string     `json:"footer,omitempty"`
	PreferCSSPageSize   bool       `json:"preferCSSPageSize,omitempty"`
	DPI                 int        `json:"dpi,omitempty"`
	Copies              int        `json:"copies,omitempty"`
	DuplexMode          string     `json:"duplexMode,omitempty"`
	Color               *bool      `json:"color,omitempty"`
	Collate             *bool      `json:"collate,omitempty"`
	PagesPerSheet       int        `json:"pagesPerSheet,omitempty"`
}

// Duplex modes.
const (
	DuplexSimplex   = "simplex"
	DuplexLongEdge  = "longEdge"
	DuplexShortEdge = "shortEdge"
)

// Scale returns the render scale as a factor in [0.1, 2]. ScaleFactor is a
// percentage; zero means 100%.
func (o Options) Scale() float64 {
	if o.ScaleFactor <= 0 {
		return 1
	}
	s := o.ScaleFactor / 100
	if s < 0.1 {
		s = 0.1
	}
	if s > 2 {
		s = 2
	}
	return s
}

// CopyCount returns the number of copies, at least one.
func (o Options) CopyCount() int {
	if o.Copies < 1 {
		return 1
	}
	return o.Copies
}

// IsSilent defaults to true: the agent never shows a print dialog unless asked.
func (o Options) IsSilent() bool {
	return o.Silent == nil || *o.Silent
}

// IsColor defaults to true.
func (o Options) IsColor() bool {
	return o.Color == nil || *o.Color
}

// IsCollated defaults to true.
func (o Options) IsCollated() bool {
	return o.Collate == nil || *o.Collate
}

// PageSize is either a named paper size or a custom size in microns.
type PageSize struct {
	Name   string `json:"-"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

var namedSizesMM = map[string][2]float64{
	"a3":      {297, 420},
	"a4":      {210, 297},
	"a5":      {148, 210},
	"a6":      {105, 148},
	"legal":   {215.9, 355.6},
	"letter":  {215.9, 279.4},
	"tabloid": {279.4, 431.8},
}

// UnmarshalJSON accepts "A4" or {"width": 80000, "height": 200000}.
func (p *PageSize) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &p.Name)
	}
	type plain PageSize
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("pageSize: %w", err)
	}
	*p = PageSize(v)
	return nil
}

// MarshalJSON mirrors UnmarshalJSON.
func (p PageSize) MarshalJSON() ([]byte, error) {
	if p.Name != "" {
		return json.Marshal(p.Name)
	}
	if p.Width == 0 && p.Height == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]int{"width": p.Width, "height": p.Height})
}

// IsZero reports whether no page size was declared.
func (p PageSize) IsZero() bool {
	return p.Name == "" && p.Width == 0 && p.Height == 0
}

// Millimeters returns the paper dimensions. ok is false when the size is
// not declared or unknown, leaving the choice to the renderer.
func (p PageSize) Millimeters() (width, height float64, ok bool) {
	if p.Name != "" {
		d, found := namedSizesMM[strings.ToLower(p.Name)]
		return d[0], d[1], found
	}
	if p.Width > 0 && p.Height > 0 {
		return float64(p.Width) / 1000, float64(p.Height) / 1000, true
	}
	return 0, 0, false
}

// Margin types.
const (
	MarginNone          = "none"
	MarginDefault       = "default"
	MarginPrintableArea = "printableArea"
	MarginCustom        = "custom"
)

// defaultMarginInches approximates the 1cm margin Chromium applies by default.
const defaultMarginInches = 0.4

// Margins in inches. An empty MarginType means no margin.
type Margins struct {
	MarginType string  `json:"marginType,omitempty"`
	Top        float64 `json:"top,omitempty"`
	Bottom     float64 `json:"bottom,omitempty"`
	Left       float64 `json:"left,omitempty"`
	Right      float64 `json:"right,omitempty"`
}

// Inches resolves the margin type into concrete margins.
func (m Margins) Inches() (top, right, bottom, left float64) {
	switch m.MarginType {
	case MarginDefault, MarginPrintableArea:
		return defaultMarginInches, defaultMarginInches, defaultMarginInches, defaultMarginInches
	case MarginCustom:
		return m.Top, m.Right, m.Bottom, m.Left
	default:
		return 0, 0, 0, 0
	}
}

// PageRanges is a 1-based range expression such as "1-3,5".
type PageRanges string

type pageRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// UnmarshalJSON accepts "1-3,5" or [{"from":0,"to":2}] with 0-based bounds.
func (r *PageRanges) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = PageRanges(strings.ReplaceAll(s, " ", ""))
		return nil
	}
	if data[0] == '{' {
		data = append(append([]byte{'['}, data...), ']')
	}
	var ranges []pageRange
	if err := json.Unmarshal(data, &ranges); err != nil {
		return fmt.Errorf("pageRanges: %w", err)
	}
	parts := make([]string, 0, len(ranges))
	for _, pr := range ranges {
		if pr.To < pr.From {
			pr.To = pr.From
		}
		if pr.From == pr.To {
			parts = append(parts, strconv.Itoa(pr.From+1))
			continue
		}
		parts = append(parts, strconv.Itoa(pr.From+1)+"-"+strconv.Itoa(pr.To+1))
	}
	*r = PageRanges(strings.Join(parts, ","))
	return nil
}
