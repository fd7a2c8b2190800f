package message

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func castAdd(fid Fid, ts uint32, text string) *Message {
	d := MessageData{
		Fid:       fid,
		Type:      TypeCastAdd,
		Timestamp: ts,
		Network:   NetworkTestnet,
		Body:      &CastAddBody{Text: text},
	}
	return &Message{
		Data:      d,
		Hash:      MustComputeHash(d),
		Signer:    bytes.Repeat([]byte{0x01}, Ed25519KeyLength),
		Signature: []byte{0x01},
	}
}

func TestCanonicalData_SortedKeysNoWhitespace(t *testing.T) {
	d := MessageData{
		Fid:       7,
		Type:      TypeAmpAdd,
		Timestamp: 42,
		Network:   NetworkDevnet,
		Body:      &AmpBody{Target: 9},
	}
	got, err := CanonicalData(d)
	require.NoError(t, err)
	assert.Equal(t, `{"body":{"target":9},"fid":7,"network":3,"timestamp":42,"type":5}`, string(got))
}

func TestCanonicalData_BytesAreHex(t *testing.T) {
	d := MessageData{
		Fid:       1,
		Type:      TypeSignerAdd,
		Timestamp: 1,
		Network:   NetworkTestnet,
		Body:      &SignerBody{Signer: []byte{0xAB, 0x01}},
	}
	got, err := CanonicalData(d)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"signer":"ab01"`)
}

func TestCanonicalData_NFCNormalizesText(t *testing.T) {
	// "é" as e + combining acute vs precomposed
	decomposed := castAdd(1, 1, "cafe\u0301")
	composed := castAdd(1, 1, "caf\u00e9")
	assert.Equal(t, composed.Hash, decomposed.Hash)
}

func TestCanonicalData_NoHTMLEscaping(t *testing.T) {
	got, err := marshalCanonicalString("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestCanonicalData_LineSeparatorsUnescaped(t *testing.T) {
	got, err := marshalCanonicalString("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(got))

	got, err = marshalCanonicalString(`a b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(got))
}

func TestCanonicalData_BodyTypeMismatch(t *testing.T) {
	_, err := CanonicalData(MessageData{Fid: 1, Type: TypeCastAdd, Timestamp: 1, Network: NetworkTestnet, Body: &AmpBody{Target: 2}})
	assert.Error(t, err)

	_, err = CanonicalData(MessageData{Fid: 1, Type: TypeCastAdd, Timestamp: 1, Network: NetworkTestnet})
	assert.Error(t, err)
}

func TestComputeHash_Deterministic(t *testing.T) {
	a := castAdd(1, 100, "hello")
	b := castAdd(1, 100, "hello")
	c := castAdd(1, 101, "hello")
	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
	assert.Len(t, a.Hash, HashLength)
}

func TestEncodeDecode_PreservesBodyUnion(t *testing.T) {
	m := castAdd(3, 55, "gm")
	m.Data.Body = &CastAddBody{Text: "gm", Mentions: []Fid{4}, Parent: &CastID{Fid: 2, Hash: bytes.Repeat([]byte{2}, HashLength)}}
	m.Hash = MustComputeHash(m.Data)

	data, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, m.Equal(decoded))
	body, ok := decoded.Data.Body.(*CastAddBody)
	require.True(t, ok, "body decoded as %T", decoded.Data.Body)
	assert.Equal(t, []Fid{4}, body.Mentions)
	assert.Equal(t, Fid(2), body.Parent.Fid)

	// Re-hashing the decoded data must reproduce the stored hash.
	assert.Equal(t, m.Hash, MustComputeHash(decoded.Data))
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"data":{"fid":1,"type":99,"timestamp":1,"network":2,"body":{}}}`))
	assert.Error(t, err)
}

func TestMessageType_SetAndKind(t *testing.T) {
	tests := []struct {
		typ    MessageType
		set    SetType
		remove bool
	}{
		{TypeCastAdd, SetCast, false},
		{TypeCastRemove, SetCast, true},
		{TypeReactionRemove, SetReaction, true},
		{TypeAmpAdd, SetAmp, false},
		{TypeVerificationAddEthAddress, SetVerification, false},
		{TypeSignerRemove, SetSigner, true},
		{TypeUserDataAdd, SetUserData, false},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.set, tt.typ.Set())
			assert.Equal(t, tt.remove, tt.typ.IsRemove())
		})
	}
}

func TestParseSetType(t *testing.T) {
	for _, set := range AllSets {
		got, err := ParseSetType(set.String())
		require.NoError(t, err)
		assert.Equal(t, set, got)
	}
	_, err := ParseSetType("bogus")
	assert.Error(t, err)
}

func TestTimeConversion(t *testing.T) {
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 1, 0, time.UTC), ToTime(1))
	assert.Equal(t, uint32(60), FromTime(time.Date(2021, 1, 1, 0, 1, 0, 0, time.UTC)))
	assert.Equal(t, uint32(0), FromTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestValidate(t *testing.T) {
	const now = 1000

	tests := []struct {
		name   string
		mutate func(m *Message)
		field  string
	}{
		{"valid", func(m *Message) {}, ""},
		{"missing fid", func(m *Message) { m.Data.Fid = 0 }, "data.fid"},
		{"wrong network", func(m *Message) { m.Data.Network = NetworkMainnet }, "data.network"},
		{"zero timestamp", func(m *Message) { m.Data.Timestamp = 0 }, "data.timestamp"},
		{"far future", func(m *Message) {
			m.Data.Timestamp = now + MaxClockDriftSeconds + 1
			m.Hash = MustComputeHash(m.Data)
		}, "data.timestamp"},
		{"bad signer", func(m *Message) { m.Signer = []byte{1, 2, 3} }, "signer"},
		{"no signature", func(m *Message) { m.Signature = nil }, "signature"},
		{"tampered hash", func(m *Message) { m.Hash[0] ^= 0xFF }, "hash"},
		{"long text", func(m *Message) {
			m.Data.Body = &CastAddBody{Text: strings.Repeat("a", MaxCastTextLength+1)}
			m.Hash = MustComputeHash(m.Data)
		}, "body.text"},
		{"body mismatch", func(m *Message) { m.Data.Body = &AmpBody{Target: 5} }, "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := castAdd(1, 500, "hi")
			tt.mutate(m)
			err := Validate(m, NetworkTestnet, now)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestValidate_AmpOwnFid(t *testing.T) {
	d := MessageData{Fid: 3, Type: TypeAmpAdd, Timestamp: 1, Network: NetworkTestnet, Body: &AmpBody{Target: 3}}
	m := &Message{Data: d, Hash: MustComputeHash(d), Signer: make([]byte, 32), Signature: []byte{1}}
	err := Validate(m, NetworkTestnet, 10)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "body.target", fe.Field)
}

func TestValidateFname(t *testing.T) {
	assert.NoError(t, ValidateFname("alice"))
	assert.NoError(t, ValidateFname("a-1"))
	assert.Error(t, ValidateFname(""))
	assert.Error(t, ValidateFname("Alice"))
	assert.Error(t, ValidateFname("way-too-long-fname"))
	assert.Error(t, ValidateFname("café"))
}

func TestChainPosition_Compare(t *testing.T) {
	a := ChainPosition{BlockNumber: 10, LogIndex: 2}
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(ChainPosition{BlockNumber: 10, LogIndex: 3}))
	assert.Equal(t, 1, a.Compare(ChainPosition{BlockNumber: 9, LogIndex: 99}))
}

func TestValidateRegistryEvents(t *testing.T) {
	ok := &IdRegistryEvent{Fid: 1, Type: IdRegistryRegister, To: make([]byte, 20)}
	assert.NoError(t, ValidateIdRegistryEvent(ok))
	assert.Error(t, ValidateIdRegistryEvent(&IdRegistryEvent{Fid: 1, Type: IdRegistryRegister, To: make([]byte, 5)}))
	assert.Error(t, ValidateIdRegistryEvent(&IdRegistryEvent{Type: IdRegistryRegister, To: make([]byte, 20)}))

	assert.NoError(t, ValidateNameRegistryEvent(&NameRegistryEvent{Fname: "bob", Type: NameRegistryTransfer, To: make([]byte, 20)}))
	assert.Error(t, ValidateNameRegistryEvent(&NameRegistryEvent{Fname: "BOB", Type: NameRegistryTransfer, To: make([]byte, 20)}))
}
