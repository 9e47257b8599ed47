package conv

const hexDigits = "0123456789ABCDEF"

// ByteHex writes b as two uppercase hex digits into buf and returns the used
// slice. NMEA checksums are the intended caller.
func ByteHex(buf []byte, b byte) []byte {
	if len(buf) < 2 {
		return buf[:0]
	}
	buf[0] = hexDigits[b>>4]
	buf[1] = hexDigits[b&0xF]
	return buf[:2]
}
