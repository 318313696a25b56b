package cipher

import (
	"bytes"
	gocipher "crypto/cipher"
	"fmt"
	"io"

	"github.com/Ning0612/submitguard/internal/domain"
)

// ecb applies fn block by block in place; len(buf) must be a multiple of the block size
func ecb(fn func(dst, src []byte), bs int, buf []byte) {
	for i := 0; i < len(buf); i += bs {
		fn(buf[i:i+bs], buf[i:i+bs])
	}
}

// encryptStream reads src in ChunkSize pieces and writes padded ECB ciphertext to dst
func encryptStream(block gocipher.Block, dst io.Writer, src io.Reader) error {
	bs := block.BlockSize()
	chunk := make([]byte, ChunkSize)
	pending := make([]byte, 0, ChunkSize+bs)

	for {
		n, readErr := src.Read(chunk)
		pending = append(pending, chunk[:n]...)

		if full := len(pending) - len(pending)%bs; full > 0 {
			ecb(block.Encrypt, bs, pending[:full])
			if _, err := dst.Write(pending[:full]); err != nil {
				return err
			}
			pending = append(pending[:0], pending[full:]...)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	pad := bs - len(pending)
	pending = append(pending, bytes.Repeat([]byte{byte(pad)}, pad)...)
	ecb(block.Encrypt, bs, pending)
	_, err := dst.Write(pending)
	return err
}

// decryptStream is the inverse of encryptStream. The last block is held back
// until EOF so its padding can be checked and stripped.
func decryptStream(block gocipher.Block, dst io.Writer, src io.Reader) error {
	bs := block.BlockSize()
	chunk := make([]byte, ChunkSize)
	pending := make([]byte, 0, ChunkSize+bs)

	for {
		n, readErr := src.Read(chunk)
		pending = append(pending, chunk[:n]...)

		if len(pending) > bs {
			full := ((len(pending) - 1) / bs) * bs
			ecb(block.Decrypt, bs, pending[:full])
			if _, err := dst.Write(pending[:full]); err != nil {
				return err
			}
			pending = append(pending[:0], pending[full:]...)
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if len(pending) != bs {
		return fmt.Errorf("%w: length is not a multiple of %d", domain.ErrInvalidCiphertext, bs)
	}
	ecb(block.Decrypt, bs, pending)

	pad := int(pending[bs-1])
	if pad < 1 || pad > bs {
		return fmt.Errorf("%w: bad padding", domain.ErrInvalidCiphertext)
	}
	for _, b := range pending[bs-pad:] {
		if int(b) != pad {
			return fmt.Errorf("%w: bad padding", domain.ErrInvalidCiphertext)
		}
	}

	_, err := dst.Write(pending[:bs-pad])
	return err
}
