package topicache

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// CompressionCodec represents a value compression algorithm.
type CompressionCodec string

const (
	CompressionNone CompressionCodec = "none"
	CompressionGzip CompressionCodec = "gzip"
)

var (
	compressMagic   = []byte("CMP1")
	encryptionMagic = []byte("ENC1")

	ErrUnsupportedCodec   = errors.New("topicache: unsupported compression codec")
	ErrCorruptCompression = errors.New("topicache: corrupt compressed payload")
	ErrEncryptionKey      = errors.New("topicache: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed      = errors.New("topicache: decrypt failed")
)

// valueCodec applies the configured at-rest transforms to values:
// compression on the way in, then encryption; the reverse on the way out.
// Both envelopes are magic-prefixed, so values written without a transform
// decode unchanged.
type valueCodec struct {
	compression CompressionCodec
	aead        cipher.AEAD
}

func newValueCodec(compression CompressionCodec, key []byte) (valueCodec, error) {
	switch compression {
	case CompressionNone, CompressionGzip:
	default:
		return valueCodec{}, ErrUnsupportedCodec
	}
	c := valueCodec{compression: compression}
	if len(key) > 0 {
		block, err := aes.NewCipher(key)
		if err != nil {
			return valueCodec{}, ErrEncryptionKey
		}
		if c.aead, err = cipher.NewGCM(block); err != nil {
			return valueCodec{}, err
		}
	}
	return c, nil
}

func (c valueCodec) encode(value []byte) ([]byte, error) {
	out, err := c.compress(value)
	if err != nil {
		return nil, err
	}
	return c.encrypt(out)
}

func (c valueCodec) decode(raw []byte) ([]byte, error) {
	out, err := c.decrypt(raw)
	if err != nil {
		return nil, err
	}
	return c.decompress(out)
}

func (c valueCodec) compress(value []byte) ([]byte, error) {
	if c.compression != CompressionGzip {
		return value, nil
	}
	var buf bytes.Buffer
	buf.Write(compressMagic)
	_ = buf.WriteByte('g')
	zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if _, err := zw.Write(value); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c valueCodec) decompress(in []byte) ([]byte, error) {
	if len(in) < len(compressMagic)+1 || !bytes.Equal(in[:len(compressMagic)], compressMagic) {
		return in, nil
	}
	switch in[len(compressMagic)] {
	case 'g':
		zr, err := gzip.NewReader(bytes.NewReader(in[len(compressMagic)+1:]))
		if err != nil {
			return nil, ErrCorruptCompression
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, ErrCorruptCompression
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

func (c valueCodec) encrypt(plain []byte) ([]byte, error) {
	if c.aead == nil {
		return plain, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := c.aead.Seal(nil, nonce, plain, nil)
	buf := make([]byte, 0, len(encryptionMagic)+1+len(nonce)+len(ct))
	buf = append(buf, encryptionMagic...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return buf, nil
}

func (c valueCodec) decrypt(in []byte) ([]byte, error) {
	if c.aead == nil {
		return in, nil
	}
	if len(in) < len(encryptionMagic)+1 || !bytes.Equal(in[:len(encryptionMagic)], encryptionMagic) {
		return in, nil
	}
	nonceLen := int(in[len(encryptionMagic)])
	offset := len(encryptionMagic) + 1
	if len(in) < offset+nonceLen {
		return nil, ErrDecryptFailed
	}
	nonce := in[offset : offset+nonceLen]
	ct := in[offset+nonceLen:]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
