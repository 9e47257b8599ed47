// Package conv holds no-allocation numeric formatting for paths that must
// not pull in fmt or strconv (TinyGo firmware, NMEA sentence assembly).
//
// All writers fill buf from the end and return the slice actually used, so
// callers pass the whole scratch array, not buf[:0].
package conv

// digits writes the base-10 digits of u into buf ending just before index i
// and returns the new start index. A zero value still yields one '0'.
func digits(buf []byte, i int, u uint64) int {
	if u == 0 && i > 0 {
		i--
		buf[i] = '0'
		return i
	}
	for u > 0 && i > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return i
}

func mag(n int64) (uint64, bool) {
	if n < 0 {
		return uint64(-n), true
	}
	return uint64(n), false
}

// Itoa writes the base-10 representation of n into buf and returns the used
// slice. buf should be length >= 20 for the full int64 range.
func Itoa(buf []byte, n int64) []byte {
	u, neg := mag(n)
	i := digits(buf, len(buf), u)
	if neg && i > 0 {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}

// Fixed writes n, interpreted as a value scaled by 10^decimals, with exactly
// that many fractional digits: Fixed(buf, 1164, 3) yields "1.164" and
// Fixed(buf, -250, 1) yields "-25.0". decimals <= 0 degrades to Itoa.
func Fixed(buf []byte, n int64, decimals int) []byte {
	if decimals <= 0 {
		return Itoa(buf, n)
	}
	u, neg := mag(n)
	i := len(buf)
	for d := 0; d < decimals && i > 0; d++ {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if i > 0 {
		i--
		buf[i] = '.'
	}
	i = digits(buf, i, u)
	if neg && i > 0 {
		i--
		buf[i] = '-'
	}
	return buf[i:]
}
