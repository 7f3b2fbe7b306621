package doctype

import "unicode/utf8"

const sniffSize = 512

// IsBinary checks if text appears to be binary content. It looks at the first 512 bytes
// for null bytes or invalid UTF-8.
func IsBinary(text string) bool {
	sample := text
	if len(sample) > sniffSize {
		sample = sample[:sniffSize]
		// Don't count a rune cut in half by the sample boundary
		for i := 0; i < utf8.UTFMax && len(sample) > 0 && !utf8.ValidString(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	for i := 0; i < len(sample); i++ {
		if sample[i] == 0 {
			return true
		}
	}
	return !utf8.ValidString(sample)
}
