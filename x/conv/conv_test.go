package conv

import "testing"

func TestItoa(t *testing.T) {
	var buf [24]byte
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{-7, "-7"},
		{1234567, "1234567"},
		{-4096, "-4096"},
	}
	for _, c := range cases {
		if got := string(Itoa(buf[:], c.n)); got != c.want {
			t.Errorf("Itoa(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

func TestFixed(t *testing.T) {
	var buf [24]byte
	cases := []struct {
		n    int64
		dec  int
		want string
	}{
		{1164, 3, "1.164"},
		{-250, 1, "-25.0"},
		{7, 2, "0.07"},
		{0, 3, "0.000"},
		{3150, 1, "315.0"},
		{-4096, 0, "-4096"},
	}
	for _, c := range cases {
		if got := string(Fixed(buf[:], c.n, c.dec)); got != c.want {
			t.Errorf("Fixed(%d, %d) = %q, want %q", c.n, c.dec, got, c.want)
		}
	}
}

func TestByteHex(t *testing.T) {
	var buf [2]byte
	cases := []struct {
		b    byte
		want string
	}{
		{0x00, "00"},
		{0x0A, "0A"},
		{0x5E, "5E"},
		{0xFF, "FF"},
	}
	for _, c := range cases {
		if got := string(ByteHex(buf[:], c.b)); got != c.want {
			t.Errorf("ByteHex(%#x) = %q, want %q", c.b, got, c.want)
		}
	}
}
