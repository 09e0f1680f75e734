package wslexec

// DecodeOutput exposes decodeOutput for table-driven UTF-16 detection tests.
func DecodeOutput(b []byte) string { return decodeOutput(b) }
