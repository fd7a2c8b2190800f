package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/hubd/internal/message"
)

// Store key prefixes. 0x06 belongs to the trie package.
const (
	prefixRecord   byte = 0x01 // fid set ts hash         -> encoded message
	prefixSetIndex byte = 0x02 // fid set logicalKey      -> ts hash
	prefixBySigner byte = 0x03 // fid len signer set ts hash -> empty
	prefixCustody  byte = 0x04 // fid                     -> encoded IdRegistryEvent
	prefixFname    byte = 0x05 // fname                   -> encoded NameRegistryEvent
	prefixFids     byte = 0x07 // fid                     -> empty
	prefixHash     byte = 0x08 // hash                    -> record key
	prefixPruned   byte = 0x09 // hash                    -> empty
)

func appendFid(b []byte, fid message.Fid) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(fid))
}

func fidPrefix(p byte, fid message.Fid) []byte {
	return appendFid([]byte{p}, fid)
}

func setPrefix(p byte, fid message.Fid, set message.SetType) []byte {
	return append(fidPrefix(p, fid), byte(set))
}

// recordKey sorts a set's records by (timestamp, hash).
func recordKey(m *message.Message) []byte {
	k := setPrefix(prefixRecord, m.Fid(), m.Type().Set())
	k = binary.BigEndian.AppendUint32(k, m.Timestamp())
	return append(k, m.Hash...)
}

func setIndexKey(fid message.Fid, set message.SetType, logicalKey []byte) []byte {
	return append(setPrefix(prefixSetIndex, fid, set), logicalKey...)
}

// setIndexValue points at the record holding a logical key.
func setIndexValue(m *message.Message) []byte {
	v := binary.BigEndian.AppendUint32(nil, m.Timestamp())
	return append(v, m.Hash...)
}

func signerPrefix(fid message.Fid, signer []byte) []byte {
	k := fidPrefix(prefixBySigner, fid)
	k = append(k, byte(len(signer)))
	return append(k, signer...)
}

func bySignerKey(m *message.Message) []byte {
	k := append(signerPrefix(m.Fid(), m.Signer), byte(m.Type().Set()))
	k = binary.BigEndian.AppendUint32(k, m.Timestamp())
	return append(k, m.Hash...)
}

func custodyKey(fid message.Fid) []byte { return fidPrefix(prefixCustody, fid) }

func fnameKey(fname string) []byte { return append([]byte{prefixFname}, fname...) }

func fidKey(fid message.Fid) []byte { return fidPrefix(prefixFids, fid) }

func hashKey(hash []byte) []byte { return append([]byte{prefixHash}, hash...) }

func prunedKey(hash []byte) []byte { return append([]byte{prefixPruned}, hash...) }

// recordKeyFromIndex rebuilds a record key from a set index value.
func recordKeyFromIndex(fid message.Fid, set message.SetType, value []byte) ([]byte, error) {
	if len(value) != 4+message.HashLength {
		return nil, fmt.Errorf("set index value has %d bytes", len(value))
	}
	return append(setPrefix(prefixRecord, fid, set), value...), nil
}

// recordKeyFromSignerIndex rebuilds a record key from a by-signer index key.
func recordKeyFromSignerIndex(fid message.Fid, prefixLen int, key []byte) ([]byte, error) {
	rest := key[prefixLen:]
	if len(rest) != 1+4+message.HashLength {
		return nil, fmt.Errorf("signer index key has %d trailing bytes", len(rest))
	}
	return append(fidPrefix(prefixRecord, fid), rest...), nil
}

func fidFromKey(key []byte) message.Fid {
	return message.Fid(binary.BigEndian.Uint64(key[1:9]))
}
