package imaging

import (
	"errors"
	"reflect"
	"testing"
)

func TestDecodeScenarios(t *testing.T) {
	tests := []struct {
		name     string
		src      []byte
		encoding string
		want     []uint8
	}{
		{name: "rgb8", src: []byte{10, 20, 30}, encoding: "rgb8", want: []uint8{10, 20, 30, 255}},
		{name: "bgr8", src: []byte{10, 20, 30}, encoding: "bgr8", want: []uint8{30, 20, 10, 255}},
		{name: "mono8", src: []byte{5}, encoding: "mono8", want: []uint8{5, 5, 5, 255}},
		{name: "bgra8", src: []byte{10, 20, 30, 40}, encoding: "bgra8", want: []uint8{30, 20, 10, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(tt.src, 1, 1, tt.encoding)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if !reflect.DeepEqual(r.Pix, tt.want) {
				t.Fatalf("Decode mismatch: got %v want %v", r.Pix, tt.want)
			}
			if r.Mismatch != nil {
				t.Fatalf("unexpected mismatch warning: %v", r.Mismatch)
			}
		})
	}
}

func TestDecodeAlphaChannel(t *testing.T) {
	const w, h = 3, 2
	for _, enc := range []Encoding{Mono8, RGB8, BGR8, BGRA8} {
		t.Run(string(enc), func(t *testing.T) {
			src := make([]byte, ExpectedLen(enc, w, h))
			for i := range src {
				src[i] = byte(i * 7)
			}
			r, err := Decode(src, w, h, string(enc))
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if len(r.Pix) != w*h*4 {
				t.Fatalf("unexpected raster length: %d", len(r.Pix))
			}
			for p := 0; p < w*h; p++ {
				alpha := r.Pix[p*4+3]
				want := uint8(255)
				if enc == BGRA8 {
					want = src[p*4+3]
				}
				if alpha != want {
					t.Fatalf("pixel %d alpha = %d, want %d", p, alpha, want)
				}
			}
		})
	}
}

func TestDecodeBGRIsChannelReversalOfRGB(t *testing.T) {
	src := []byte{1, 2, 3, 200, 100, 50, 9, 8, 7, 0, 255, 128}
	rgb, err := Decode(src, 2, 2, "rgb8")
	if err != nil {
		t.Fatalf("rgb8 error: %v", err)
	}
	bgr, err := Decode(src, 2, 2, "bgr8")
	if err != nil {
		t.Fatalf("bgr8 error: %v", err)
	}
	for j := 0; j < len(bgr.Pix); j += 4 {
		bgr.Pix[j], bgr.Pix[j+2] = bgr.Pix[j+2], bgr.Pix[j]
	}
	if !reflect.DeepEqual(rgb.Pix, bgr.Pix) {
		t.Fatalf("swapped bgr8 %v != rgb8 %v", bgr.Pix, rgb.Pix)
	}
}

func TestDecodeMono8Replicates(t *testing.T) {
	for v := 0; v < 256; v++ {
		r, err := Decode([]byte{byte(v)}, 1, 1, "mono8")
		if err != nil {
			t.Fatalf("Decode error: %v", err)
		}
		want := []uint8{uint8(v), uint8(v), uint8(v), 255}
		if !reflect.DeepEqual(r.Pix, want) {
			t.Fatalf("mono8 %d: got %v", v, r.Pix)
		}
	}
}

func TestDecodeEmptyAlwaysFails(t *testing.T) {
	cases := []struct {
		w, h int
		enc  string
	}{
		{1, 1, "rgb8"},
		{0, 0, "mono8"},
		{640, 480, "bgra8"},
		{2, 2, "yuv422"},
		{-1, 5, ""},
	}
	for _, c := range cases {
		_, err := Decode(nil, c.w, c.h, c.enc)
		if !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("Decode(nil, %d, %d, %q) = %v, want ErrEmptyPayload", c.w, c.h, c.enc, err)
		}
		_, err = Decode([]byte{}, c.w, c.h, c.enc)
		if !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("Decode(empty, %d, %d, %q) = %v, want ErrEmptyPayload", c.w, c.h, c.enc, err)
		}
	}
}

func TestDecodeUnsupportedEncoding(t *testing.T) {
	for _, enc := range []string{"yuv422", "16UC1", "RGB8", "", "rgba8"} {
		r, err := Decode([]byte{1, 2, 3, 4}, 1, 1, enc)
		var encErr *UnsupportedEncodingError
		if !errors.As(err, &encErr) {
			t.Fatalf("encoding %q: got %v, want UnsupportedEncodingError", enc, err)
		}
		if encErr.Encoding != enc {
			t.Fatalf("error names %q, want %q", encErr.Encoding, enc)
		}
		if r != nil {
			t.Fatalf("encoding %q: expected no raster", enc)
		}
	}
}

func TestDecodeInvalidDimensions(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"zero width", 0, 1},
		{"negative height", 4, -1},
		{"product overflows", 1 << 31, 1 << 31},
		{"too many pixels", 1 << 20, 1 << 19},
		{"one side huge", 1 << 40, 1},
		{"huge by huge", 1 << 40, 1 << 20},
		{"product wraps uint64", 1 << 32, 1 << 32},
		{"just over the cap", MaxPixels + 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode([]byte{1}, tt.w, tt.h, "mono8")
			var dims *InvalidDimensionsError
			if !errors.As(err, &dims) {
				t.Fatalf("got %v, want InvalidDimensionsError", err)
			}
			if r != nil {
				t.Fatalf("expected no raster")
			}
		})
	}
}

func TestDecodeAtPixelCap(t *testing.T) {
	r, err := Decode([]byte{7}, MaxPixels, 1, "mono8")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(r.Pix) != r.Width*r.Height*4 {
		t.Fatalf("len(Pix) = %d, want %d", len(r.Pix), r.Width*r.Height*4)
	}
}

func TestDecodeEncodingCheckedBeforeDimensions(t *testing.T) {
	_, err := Decode([]byte{1}, 0, 1, "yuv422")
	var encErr *UnsupportedEncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("got %v, want UnsupportedEncodingError", err)
	}
}

func TestDecodeShortSourceLeavesRemainderZero(t *testing.T) {
	// two whole rgb8 pixels plus a dangling byte for a 2x2 image
	src := []byte{1, 2, 3, 4, 5, 6, 7}
	r, err := Decode(src, 2, 2, "rgb8")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if r.Mismatch == nil || r.Mismatch.Expected != 12 || r.Mismatch.Actual != 7 {
		t.Fatalf("unexpected mismatch warning: %#v", r.Mismatch)
	}
	want := []uint8{
		1, 2, 3, 255,
		4, 5, 6, 255,
		0, 0, 0, 0,
		0, 0, 0, 0,
	}
	if !reflect.DeepEqual(r.Pix, want) {
		t.Fatalf("got %v want %v", r.Pix, want)
	}
}

func TestDecodeLongSourceStopsAtRaster(t *testing.T) {
	src := []byte{9, 8, 7, 6, 5}
	r, err := Decode(src, 2, 1, "mono8")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if r.Mismatch == nil {
		t.Fatalf("expected mismatch warning")
	}
	want := []uint8{9, 9, 9, 255, 8, 8, 8, 255}
	if !reflect.DeepEqual(r.Pix, want) {
		t.Fatalf("got %v want %v", r.Pix, want)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrEmptyPayload, "empty"},
		{&Base64DecodeError{Err: errors.New("x")}, "base64"},
		{&UnsupportedPayloadTypeError{TypeName: "object"}, "payload_type"},
		{&UnsupportedEncodingError{Encoding: "yuv"}, "encoding"},
		{&InvalidDimensionsError{}, "dimensions"},
		{&LengthMismatchWarning{Expected: 3, Actual: 2}, "length_mismatch"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
