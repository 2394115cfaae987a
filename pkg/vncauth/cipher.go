// Package vncauth implements the DES block cipher used by the VNC
// challenge-response security type.
//
// The cipher is standard single DES restricted to encryption: a key schedule
// derived once per key and a 16-round Feistel network whose S-box lookups
// are precomputed SP tables with the P permutation already folded in. It is
// not a general purpose cipher: there is no decryption and no chaining mode.
// Encrypt answers a 16-byte authentication challenge as two independent
// 8-byte blocks.
package vncauth

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the DES block size in bytes.
	BlockSize = 8
	// KeySize is the DES key size in bytes (56 key bits plus 8 parity bits).
	KeySize = 8
	// ChallengeSize is the size of a VNC authentication challenge.
	ChallengeSize = 16
)

var (
	// ErrInvalidKeyLength is returned when a key is not exactly KeySize bytes.
	ErrInvalidKeyLength = errors.New("vncauth: invalid key length")

	// ErrInvalidChallengeLength is returned when a challenge is not exactly
	// ChallengeSize bytes.
	ErrInvalidChallengeLength = errors.New("vncauth: invalid challenge length")
)

// KeySchedule holds the 16 rounds of two packed 32-bit subkeys. The packing
// places each 6-bit group at the byte offset the round function extracts it
// from.
type KeySchedule [32]uint32

// Cipher encrypts 8-byte blocks under a fixed key. The zero value has no key
// and must be keyed with SetKey before use.
type Cipher struct {
	keys  KeySchedule
	keyed bool
}

// NewCipher returns a Cipher keyed with key.
func NewCipher(key []byte) (*Cipher, error) {
	c := &Cipher{}
	if err := c.SetKey(key); err != nil {
		return nil, err
	}
	return c, nil
}

// SetKey derives a fresh key schedule from key, replacing any previous one.
// Parity bits are discarded by the PC1 selection and are not validated.
func (c *Cipher) SetKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeyLength, len(key), KeySize)
	}
	c.keys = deriveKeySchedule(key)
	c.keyed = true
	return nil
}

// Schedule returns a copy of the derived key schedule.
func (c *Cipher) Schedule() KeySchedule {
	return c.keys
}

// BlockSize returns BlockSize.
func (c *Cipher) BlockSize() int { return BlockSize }

// EncryptBlock encrypts the first block of src into dst. dst and src may
// overlap entirely. It panics if either is shorter than BlockSize or the
// cipher has no key.
func (c *Cipher) EncryptBlock(dst, src []byte) {
	if len(src) < BlockSize {
		panic("vncauth: input not full block")
	}
	if len(dst) < BlockSize {
		panic("vncauth: output not full block")
	}
	if !c.keyed {
		panic("vncauth: cipher used before SetKey")
	}
	left := binary.BigEndian.Uint32(src[0:4])
	right := binary.BigEndian.Uint32(src[4:8])
	left, right = c.crypt(left, right)
	binary.BigEndian.PutUint32(dst[0:4], left)
	binary.BigEndian.PutUint32(dst[4:8], right)
}

// Encrypt encrypts a 16-byte challenge as two independent blocks (ECB, no IV)
// and returns the 16-byte response.
func (c *Cipher) Encrypt(challenge []byte) ([]byte, error) {
	if len(challenge) != ChallengeSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidChallengeLength, len(challenge), ChallengeSize)
	}
	if !c.keyed {
		return nil, fmt.Errorf("%w: cipher has no key", ErrInvalidKeyLength)
	}
	out := make([]byte, ChallengeSize)
	c.EncryptBlock(out[:BlockSize], challenge[:BlockSize])
	c.EncryptBlock(out[BlockSize:], challenge[BlockSize:])
	return out, nil
}

// deriveKeySchedule runs PC1, the per-round rotations of the two 28-bit
// halves and PC2, then repacks each round's two 24-bit halves for the round
// function.
func deriveKeySchedule(key []byte) KeySchedule {
	var selected [56]byte
	for j, l := range pc1 {
		if key[l>>3]&(0x80>>(l&7)) != 0 {
			selected[j] = 1
		}
	}

	var raw [32]uint32
	var rotated [56]byte
	for i := 0; i < 16; i++ {
		shift := int(totalRotations[i])
		for j := 0; j < 28; j++ {
			l := j + shift
			if l >= 28 {
				l -= 28
			}
			rotated[j] = selected[l]
		}
		for j := 28; j < 56; j++ {
			l := j + shift
			if l >= 56 {
				l -= 28
			}
			rotated[j] = selected[l]
		}

		m, n := i<<1, i<<1+1
		for j := 0; j < 24; j++ {
			if rotated[pc2[j]] != 0 {
				raw[m] |= 1 << (23 - j)
			}
			if rotated[pc2[j+24]] != 0 {
				raw[n] |= 1 << (23 - j)
			}
		}
	}

	var ks KeySchedule
	for i := 0; i < 16; i++ {
		raw0, raw1 := raw[2*i], raw[2*i+1]
		ks[2*i] = (raw0&0x00fc0000)<<6 |
			(raw0&0x00000fc0)<<10 |
			(raw1&0x00fc0000)>>10 |
			(raw1&0x00000fc0)>>6
		ks[2*i+1] = (raw0&0x0003f000)<<12 |
			(raw0&0x0000003f)<<16 |
			(raw1&0x0003f000)>>4 |
			raw1&0x0000003f
	}
	return ks
}

// crypt applies the initial permutation, 16 rounds and the final
// permutation. Rounds are unrolled in pairs so the halves never need an
// explicit swap; the output order accounts for the skipped final swap.
func (c *Cipher) crypt(left, right uint32) (uint32, uint32) {
	var work uint32

	work = (left>>4 ^ right) & 0x0f0f0f0f
	right ^= work
	left ^= work << 4
	work = (left>>16 ^ right) & 0x0000ffff
	right ^= work
	left ^= work << 16
	work = (right>>2 ^ left) & 0x33333333
	left ^= work
	right ^= work << 2
	work = (right>>8 ^ left) & 0x00ff00ff
	left ^= work
	right ^= work << 8
	right = right<<1 | right>>31
	work = (left ^ right) & 0xaaaaaaaa
	left ^= work
	right ^= work
	left = left<<1 | left>>31

	keys := &c.keys
	for round := 0; round < 16; round += 2 {
		left ^= feistel(right, keys[2*round], keys[2*round+1])
		right ^= feistel(left, keys[2*round+2], keys[2*round+3])
	}

	right = right<<31 | right>>1
	work = (left ^ right) & 0xaaaaaaaa
	left ^= work
	right ^= work
	left = left<<31 | left>>1
	work = (left>>8 ^ right) & 0x00ff00ff
	right ^= work
	left ^= work << 8
	work = (left>>2 ^ right) & 0x33333333
	right ^= work
	left ^= work << 2
	work = (right>>16 ^ left) & 0x0000ffff
	left ^= work
	right ^= work << 16
	work = (right>>4 ^ left) & 0x0f0f0f0f
	left ^= work
	right ^= work << 4

	return right, left
}

// feistel is the round function: expansion, subkey mixing and the eight
// SP lookups.
func feistel(half, k0, k1 uint32) uint32 {
	work := (half<<28 | half>>4) ^ k0
	f := spBoxes[6][work&0x3f] |
		spBoxes[4][(work>>8)&0x3f] |
		spBoxes[2][(work>>16)&0x3f] |
		spBoxes[0][(work>>24)&0x3f]
	work = half ^ k1
	f |= spBoxes[7][work&0x3f] |
		spBoxes[5][(work>>8)&0x3f] |
		spBoxes[3][(work>>16)&0x3f] |
		spBoxes[1][(work>>24)&0x3f]
	return f
}
