package audio

import "encoding/binary"

// ConvertUnsignedToSigned flips the high-order byte of every sample in place
// by subtracting the unsigned bias.
func ConvertUnsignedToSigned(data []byte, f Format) {
	step := f.BytesPerSample()
	if step == 0 {
		return
	}
	hi := 0
	if !f.BigEndian {
		hi = step - 1
	}
	for i := hi; i < len(data); i += step {
		data[i] = byte(int(data[i]) - 0x80)
	}
}

// SwapEndian16 reverses the byte order of each 16-bit sample in place.
func SwapEndian16(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		data[i], data[i+1] = data[i+1], data[i]
	}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples converts little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return samples
}
