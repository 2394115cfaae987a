package vncauth

import "math/bits"

// PasswordKey converts a VNC password into a DES key. Only the first
// KeySize bytes are significant and shorter passwords are zero padded.
// VNC servers feed key bytes to DES least significant bit first, so each
// byte is mirrored to obtain the equivalent standard DES key.
func PasswordKey(password string) []byte {
	key := make([]byte, KeySize)
	copy(key, password)
	for i, b := range key {
		key[i] = bits.Reverse8(b)
	}
	return key
}

// Response computes the reply to a VNC authentication challenge.
func Response(password string, challenge []byte) ([]byte, error) {
	c, err := NewCipher(PasswordKey(password))
	if err != nil {
		return nil, err
	}
	return c.Encrypt(challenge)
}
