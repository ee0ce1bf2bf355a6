package ivfpq

// codec packs pqDim code components of pqBits each into a byte row.
// pqDim*pqBits is a multiple of 8, so rows always end on a byte boundary.
type codec struct {
	pqDim  int
	pqBits int
	mask   uint32
}

func newCodec(pqDim, pqBits int) codec {
	return codec{pqDim: pqDim, pqBits: pqBits, mask: uint32(1)<<pqBits - 1}
}

// rowBytes is the packed size of one vector.
func (c codec) rowBytes() int { return c.pqDim * c.pqBits / 8 }

// pack writes codes into dst, little-endian within the bit stream. Each code
// must fit pqBits.
func (c codec) pack(dst []byte, codes []uint32) {
	var acc uint64
	bits := 0
	out := 0
	for _, code := range codes {
		acc |= uint64(code&c.mask) << bits
		bits += c.pqBits
		for bits >= 8 {
			dst[out] = byte(acc)
			acc >>= 8
			bits -= 8
			out++
		}
	}
}

// unpack reads pqDim codes from src into dst.
func (c codec) unpack(dst []uint32, src []byte) {
	var acc uint64
	bits := 0
	in := 0
	for i := 0; i < c.pqDim; i++ {
		for bits < c.pqBits {
			acc |= uint64(src[in]) << bits
			bits += 8
			in++
		}
		dst[i] = uint32(acc) & c.mask
		acc >>= c.pqBits
		bits -= c.pqBits
	}
}
