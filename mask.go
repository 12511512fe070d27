package websock

// maskBytes XOR-cycles p in place against a 4-byte key. Masking and
// unmasking are the same operation. The key length is a caller
// contract and is not re-checked here.
func maskBytes(p []byte, key []byte) {
	for i := range p {
		p[i] ^= key[i%4]
	}
}
