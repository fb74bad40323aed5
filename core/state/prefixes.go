package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	accountPrefix  = []byte("account/")
	marketPrefix   = []byte("market/")
	custodyPrefix  = []byte("custody/")
	marketIndexKey = []byte("market/index")
)

func prefixedKey(prefix, id []byte) []byte {
	buf := make([]byte, len(prefix)+len(id))
	copy(buf, prefix)
	copy(buf[len(prefix):], id)
	return ethcrypto.Keccak256(buf)
}

func accountKey(id []byte) []byte { return prefixedKey(accountPrefix, id) }

func marketKey(id []byte) []byte { return prefixedKey(marketPrefix, id) }

func custodyKey(id []byte) []byte { return prefixedKey(custodyPrefix, id) }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}
