package interop

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/runtime"
)

// ============================================================================
// System.Security.Cryptography
// ============================================================================

// 派生密钥长度上限
const maxDerivedKey = 1 << 16

func registerCrypto(r *Resolver) {
	const ns = "System.Security.Cryptography."
	r.Register(ns+"SHA3_256::HashData(unsigned int8[])", cryptoSha3)
	r.Register(ns+"BLAKE2b::HashData(unsigned int8[])", cryptoBlake2b)
	r.Register(ns+"Rfc2898DeriveBytes::Pbkdf2(unsigned int8[],unsigned int8[],int32,int32)", cryptoPbkdf2)
	r.Register(ns+"HKDF::DeriveKey(unsigned int8[],int32,unsigned int8[],unsigned int8[])", cryptoHkdf)
}

// cryptoSha3 SHA3-256
// SHA3_256.HashData(data byte[]) -> byte[32]
func cryptoSha3(c *Call) (jit.Slot, error) {
	data, err := c.Bytes(0)
	if err != nil {
		return jit.Slot{}, err
	}
	sum := sha3.Sum256(data)
	return c.ReturnBytes(sum[:])
}

// cryptoBlake2b BLAKE2b-256
// BLAKE2b.HashData(data byte[]) -> byte[32]
func cryptoBlake2b(c *Call) (jit.Slot, error) {
	data, err := c.Bytes(0)
	if err != nil {
		return jit.Slot{}, err
	}
	sum := blake2b.Sum256(data)
	return c.ReturnBytes(sum[:])
}

// cryptoPbkdf2 PBKDF2-HMAC-SHA256
// Rfc2898DeriveBytes.Pbkdf2(password byte[], salt byte[], iterations int, length int) -> byte[]
func cryptoPbkdf2(c *Call) (jit.Slot, error) {
	password, err := c.Bytes(0)
	if err != nil {
		return jit.Slot{}, err
	}
	salt, err := c.Bytes(1)
	if err != nil {
		return jit.Slot{}, err
	}
	iter, n := c.Args[2].I, c.Args[3].I
	if iter <= 0 || n <= 0 || n > maxDerivedKey {
		return jit.Slot{}, c.Throw(runtime.ExcOverflow, "iteration count or key length out of range")
	}
	return c.ReturnBytes(pbkdf2.Key(password, salt, int(iter), int(n), sha256.New))
}

// cryptoHkdf HKDF-SHA256
// HKDF.DeriveKey(ikm byte[], length int, salt byte[], info byte[]) -> byte[]
func cryptoHkdf(c *Call) (jit.Slot, error) {
	ikm, err := c.Bytes(0)
	if err != nil {
		return jit.Slot{}, err
	}
	n := c.Args[1].I
	if n <= 0 || n > 255*sha256.Size {
		return jit.Slot{}, c.Throw(runtime.ExcOverflow, "output length out of range")
	}
	// salt 和 info 允许为 null
	var salt, info []byte
	if c.Args[2].Ref != nil {
		if salt, err = c.Bytes(2); err != nil {
			return jit.Slot{}, err
		}
	}
	if c.Args[3].Ref != nil {
		if info, err = c.Bytes(3); err != nil {
			return jit.Slot{}, err
		}
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), key); err != nil {
		return jit.Slot{}, err
	}
	return c.ReturnBytes(key)
}
