package printjob

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adcondev/print-agent/internal/printerr"
)

func TestParseDescriptor(t *testing.T) {
	raw := `{
		"printer": "HP LaserJet", "type": "PDF", "templateId": "T1",
		"taskId": "J1", "replyId": "R1", "pageNum": 2, "reprintable": true,
		"landscape": true, "scaleFactor": 50, "copies": 3,
		"pageSize": {"width": 80000, "height": 200000},
		"margins": {"marginType": "custom", "top": 0.5, "left": 0.25},
		"pageRanges": [{"from": 0, "to": 2}, {"from": 4, "to": 4}],
		"unknownField": 42
	}`

	d, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "HP LaserJet", d.Printer)
	assert.Equal(t, KindPDF, d.Kind())
	assert.Equal(t, 2, d.PageCount)
	assert.True(t, d.Reprintable)
	assert.True(t, d.Landscape)
	assert.InDelta(t, 0.5, d.Scale(), 1e-9)
	assert.Equal(t, 3, d.CopyCount())
	assert.Equal(t, PageRanges("1-3,5"), d.PageRanges)
	assert.False(t, d.HasBlob())

	w, h, ok := d.PageSize.Millimeters()
	require.True(t, ok)
	assert.InDelta(t, 80.0, w, 1e-9)
	assert.InDelta(t, 200.0, h, 1e-9)

	top, right, bottom, left := d.Margins.Inches()
	assert.Equal(t, []float64{0.5, 0, 0, 0.25}, []float64{top, right, bottom, left})
}

func TestKindFallsBackToHTML(t *testing.T) {
	for _, typ := range []string{"", "html", "HTML", "label", "docx"} {
		d := &Descriptor{Type: typ}
		assert.Equal(t, KindHTML, d.Kind(), typ)
	}
	assert.Equal(t, KindBlobPDF, (&Descriptor{Type: " Blob_PDF "}).Kind())
	assert.Equal(t, KindURLPDF, (&Descriptor{Type: "url_pdf"}).Kind())
}

func TestOptionDefaults(t *testing.T) {
	var o Options
	assert.True(t, o.IsSilent())
	assert.True(t, o.IsColor())
	assert.True(t, o.IsCollated())
	assert.Equal(t, 1, o.CopyCount())
	assert.Equal(t, 1.0, o.Scale())

	top, right, bottom, left := o.Margins.Inches()
	assert.Zero(t, top+right+bottom+left)

	_, _, ok := o.PageSize.Millimeters()
	assert.False(t, ok)
}

func TestNamedPageSize(t *testing.T) {
	d, err := Parse([]byte(`{"pageSize":"a4","pageRanges":"1 - 2"}`))
	require.NoError(t, err)
	w, h, ok := d.PageSize.Millimeters()
	require.True(t, ok)
	assert.Equal(t, 210.0, w)
	assert.Equal(t, 297.0, h)
	assert.Equal(t, PageRanges("1-2"), d.PageRanges)
}

func TestBlobShapes(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%EOF")
	b64 := base64.StdEncoding.EncodeToString(pdf)

	tests := []struct {
		name string
		raw  string
		want []byte
	}{
		{"buffer object", `{"pdf_blob":{"type":"Buffer","data":[37,80,68,70]}}`, []byte("%PDF")},
		{"byte array", `{"pdf_blob":[37,80,68,70]}`, []byte("%PDF")},
		{"base64", `{"pdf_blob":"` + b64 + `"}`, pdf},
		{"data url", `{"pdf_blob":"data:application/pdf;base64,` + b64 + `"}`, pdf},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			require.True(t, d.HasBlob())
			got, err := d.PDFBlob.Bytes()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlobRejectsOtherShapes(t *testing.T) {
	for _, raw := range []string{
		`{"pdf_blob":12}`,
		`{"pdf_blob":true}`,
		`{"pdf_blob":[1,2,300]}`,
		`{"pdf_blob":[1.5]}`,
		`{"pdf_blob":{"type":"Blob","data":[1]}}`,
		`{"pdf_blob":"!!not base64!!"}`,
		`{"pdf_blob":{"type":"Buffer","data":[]}}`,
		`{"pdf_blob":[]}`,
		`{"pdf_blob":"data:application/pdf;base64,"}`,
	} {
		d, err := Parse([]byte(raw))
		require.NoError(t, err)
		_, err = d.PDFBlob.Bytes()
		require.Error(t, err, raw)
		assert.Equal(t, printerr.KindInvalidInput, printerr.KindOf(err), raw)
	}
}

func TestNullBlobIsAbsent(t *testing.T) {
	d, err := Parse([]byte(`{"type":"blob_pdf","pdf_blob":null}`))
	require.NoError(t, err)
	assert.False(t, d.HasBlob())

	_, err = d.PDFBlob.Bytes()
	assert.Equal(t, printerr.KindMissingInput, printerr.KindOf(err))
}

func TestLogJSONDropsBlob(t *testing.T) {
	d, err := Parse([]byte(`{"type":"blob_pdf","templateId":"T1","pdf_blob":[1,2,3]}`))
	require.NoError(t, err)

	out := d.LogJSON()
	assert.NotContains(t, out, "pdf_blob")
	assert.Contains(t, out, `"templateId":"T1"`)
	assert.True(t, d.HasBlob(), "LogJSON must not mutate the job")
}
