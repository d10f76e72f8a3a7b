package detect

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarbox/tarbox/internal/config"
	"github.com/tarbox/tarbox/pkg/types"
)

func newDetector() *Detector {
	return New(config.NewDefault().Detector)
}

func TestClassifyEmpty(t *testing.T) {
	res := newDetector().Classify(nil)
	assert.True(t, res.IsText)
	assert.Equal(t, types.EncodingUTF8, res.Encoding)
	assert.True(t, res.NoLineBreaks)
	assert.False(t, res.TrailingNewline)
}

func TestClassifyRules(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		isText  bool
	}{
		{"plain ascii", []byte("hello\nworld\n"), true},
		{"nul byte", []byte("he\x00llo"), false},
		{"oversized", bytes.Repeat([]byte("a\n"), 6*1024*1024), false},
		{"long unbroken run", bytes.Repeat([]byte{'a'}, 11*1024), false},
		{"mostly control bytes", append([]byte("ab"), bytes.Repeat([]byte{0x01}, 10)...), false},
		{"utf-8 multibyte", []byte("héllo wörld\n"), true},
		{"latin-1 high bytes", []byte{'c', 'a', 'f', 0xE9, '\n'}, true},
		{"c1 controls and invalid utf-8", []byte{0x85, 0x92, 'a', 'b'}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newDetector().Classify(tt.content)
			assert.Equal(t, tt.isText, res.IsText)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	content := []byte("some\ncontent\r\nwith\rmixed endings\n")
	d := newDetector()
	first := d.Classify(content)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Classify(content))
	}
}

func TestEncodingStrictness(t *testing.T) {
	tests := []struct {
		name     string
		content  []byte
		encoding types.Encoding
	}{
		{"ascii only", []byte("plain\n"), types.EncodingASCII},
		{"valid utf-8", []byte("naïve\n"), types.EncodingUTF8},
		{"latin-1 not utf-8", []byte{'n', 'a', 0xEF, 'v', 'e', '\n'}, types.EncodingLatin1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newDetector().Classify(tt.content)
			assert.True(t, res.IsText)
			assert.Equal(t, tt.encoding, res.Encoding)
		})
	}
}

func TestLineEndingMajority(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		le    types.LineEnding
		mixed bool
	}{
		{"lf only", "a\nb\nc\n", types.LineEndingLF, false},
		{"crlf only", "a\r\nb\r\nc\r\n", types.LineEndingCRLF, false},
		{"cr only", "a\rb\rc\r", types.LineEndingCR, false},
		{"mixed stored as lf", "a\nb\r\nc\n", types.LineEndingLF, true},
		{"tie resolves to lf", "a\nb\r\n", types.LineEndingLF, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newDetector().Classify([]byte(tt.text))
			assert.True(t, res.IsText)
			assert.Equal(t, tt.le, res.LineEnding)
			assert.Equal(t, tt.mixed, res.MixedEndings)
		})
	}
}

func TestNoLineBreaks(t *testing.T) {
	res := newDetector().Classify([]byte("single line no break"))
	assert.True(t, res.IsText)
	assert.Equal(t, types.LineEndingLF, res.LineEnding)
	assert.True(t, res.NoLineBreaks)
	assert.False(t, res.TrailingNewline)
}

func TestBinaryMIMEDetail(t *testing.T) {
	// PNG magic followed by padding; NUL bytes force the binary path.
	png := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)
	res := newDetector().Classify(png)
	assert.False(t, res.IsText)
	assert.Equal(t, "image/png", res.MIME)
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		lines []string
	}{
		{"empty", "", nil},
		{"lf", "a\nb\nc\n", []string{"a", "b", "c"}},
		{"lf no trailing", "a\nb", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"cr", "a\rb\r", []string{"a", "b"}},
		{"mixed", "a\nb\r\nc\rd", []string{"a", "b", "c", "d"}},
		{"blank lines kept", "a\n\nb\n", []string{"a", "", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.lines, SplitLines([]byte(tt.text)))
		})
	}
}

func TestThresholdsConfigurable(t *testing.T) {
	cfg := config.DetectorConfig{MaxTextSize: 8, MaxNonPrintableRatio: 0.05, MaxLineLength: 1024}
	d := New(cfg)
	assert.False(t, d.Classify([]byte(strings.Repeat("a", 9))).IsText)
	assert.True(t, d.Classify([]byte("short")).IsText)
}
