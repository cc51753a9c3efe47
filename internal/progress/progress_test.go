package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestBar(t *testing.T) {
	tests := []struct {
		name     string
		activity string
		percent  float64
		width    int
		frame    int
		want     string
	}{
		{
			name:     "half done",
			activity: "copy",
			percent:  50,
			width:    48,
			want:     "copy: 50% done [###########|           ]",
		},
		{
			name:     "zero percent",
			activity: "copy",
			percent:  0,
			width:    48,
			want:     "copy: 0% done [|                       ]",
		},
		{
			name:     "spinner advances",
			activity: "copy",
			percent:  50,
			width:    48,
			frame:    1,
			want:     "copy: 50% done [###########/           ]",
		},
		{
			name:     "rounded to 100 omits bar",
			activity: "copy",
			percent:  99.6,
			width:    48,
			want:     "copy: 100% done ",
		},
		{
			name:     "narrow terminal",
			activity: "copy",
			percent:  40,
			width:    10,
			want:     "copy: 40% done []",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bar(tt.activity, tt.percent, tt.width, tt.frame)
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBar_FixedWidth(t *testing.T) {
	for _, pct := range []float64{0, 1.5, 33.3, 50, 72.9, 99.4} {
		line := Bar("  + installer", pct, 100, 3)
		if n := utf8.RuneCountInString(line); n != 92 {
			t.Errorf("percent %v: expected 92 columns, got %d (%q)", pct, n, line)
		}
	}
}

func TestBar_MultibytePrefix(t *testing.T) {
	line := Bar("• macinbox.vmdk", 10, 60, 0)
	if n := utf8.RuneCountInString(line); n != 52 {
		t.Errorf("expected 52 columns counting runes, got %d (%q)", n, line)
	}
}

func TestReporter_RedrawsInPlace(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, func() int { return 48 }, nil)

	r.Start("copy")
	r.Update(50)
	r.Update(100)
	r.Finish()
	r.Finish()

	out := buf.String()
	if !strings.HasPrefix(out, HideCursor) {
		t.Errorf("expected cursor to be hidden first, got %q", out)
	}
	if !strings.HasSuffix(out, ShowCursor+"\n") {
		t.Errorf("expected cursor to be restored last, got %q", out)
	}
	if c := strings.Count(out, ClearLine); c != 3 {
		t.Errorf("expected 3 redraws, got %d", c)
	}
	if strings.Count(out, ShowCursor) != 1 {
		t.Errorf("expected Finish to be idempotent, got %q", out)
	}
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected a single newline, got %q", out)
	}
}

func TestReporter_Style(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, nil, func(s string) string { return "<" + s + ">" })

	r.Start("x")
	r.Finish()

	if !strings.Contains(buf.String(), ClearLine+"<x: 0% done [") {
		t.Errorf("expected styled line, got %q", buf.String())
	}
}

func TestCopy(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 2*chunkSize+123)
	var dst, out bytes.Buffer
	r := NewReporter(&out, func() int { return 80 }, nil)

	n, err := Copy(&dst, bytes.NewReader(data), int64(len(data)), r, "box.img")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(data)) || !bytes.Equal(dst.Bytes(), data) {
		t.Fatalf("expected %d bytes copied, got %d", len(data), n)
	}
	if !strings.Contains(out.String(), "box.img: 100% done") {
		t.Errorf("expected final 100%% line, got %q", out.String())
	}
	// start + one redraw per chunk
	if c := strings.Count(out.String(), ClearLine); c != 4 {
		t.Errorf("expected 4 redraws, got %d", c)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestCopy_WriteError(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out, nil, nil)

	_, err := Copy(failingWriter{}, strings.NewReader("payload"), 7, r, "x")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected write error, got %v", err)
	}
	if !strings.HasSuffix(out.String(), ShowCursor+"\n") {
		t.Errorf("expected cursor restored after failure, got %q", out.String())
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total int64
		want        float64
	}{
		{0, 100, 0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{3, 3, 100},
		{0, 0, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %v, want %v", tt.done, tt.total, got, tt.want)
		}
	}
}
