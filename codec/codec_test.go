package codec

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Ping struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

type Label string

type javaPong struct {
	Seq int `json:"seq"`
}

func (javaPong) TypeTag() string { return "com.example.Pong" }

func TestTagOf(t *testing.T) {
	var nilPing *Ping
	cases := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, TagNull},
		{"nil pointer", nilPing, TagNull},
		{"string", "hi", TagString},
		{"string pointer", new(string), TagString},
		{"int", 42, TagObject},
		{"float", 4.2, TagObject},
		{"bool", true, TagObject},
		{"map", map[string]any{"a": 1}, TagObject},
		{"slice of custom", []Ping{{}}, TagObject},
		{"time", time.Unix(0, 0), TagObject},
		{"big int", big.NewInt(7), TagObject},
		{"custom", Ping{Seq: 1}, "jmtp/codec.Ping"},
		{"custom pointer", &Ping{Seq: 1}, "jmtp/codec.Ping"},
		{"named string", Label("x"), "jmtp/codec.Label"},
		{"tagged", javaPong{}, "com.example.Pong"},
		{"tagged pointer", &javaPong{}, "com.example.Pong"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TagOf(tc.value))
		})
	}
}

func TestRegistryDecode(t *testing.T) {
	reg := NewRegistry()
	tag := RegisterType[Ping](reg)
	require.Equal(t, "jmtp/codec.Ping", tag)

	for _, c := range []Codec{GetCodec(CodecTypeJSON), GetCodec(CodecTypeJSONIter)} {
		t.Run(c.Type().String(), func(t *testing.T) {
			data, err := c.Marshal(Ping{Seq: 3, Note: "n"})
			require.NoError(t, err)

			v, err := reg.Decode(c, tag, data)
			require.NoError(t, err)
			assert.Equal(t, Ping{Seq: 3, Note: "n"}, v)

			// Unknown custom tags fall back to a generic value.
			v, err = reg.Decode(c, "com.example.Unknown", data)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"seq": json.Number("3"), "note": "n"}, v)

			v, err = reg.Decode(c, TagString, []byte(`"hi"`))
			require.NoError(t, err)
			assert.Equal(t, "hi", v)

			v, err = reg.Decode(c, TagNull, []byte(`null`))
			require.NoError(t, err)
			assert.Nil(t, v)

			v, err = reg.Decode(c, TagObject, []byte(`[1,"a"]`))
			require.NoError(t, err)
			assert.Equal(t, []any{json.Number("1"), "a"}, v)

			_, err = reg.Decode(c, TagString, []byte(`{"oops"`))
			assert.Error(t, err)
		})
	}
}

func TestNilRegistryKnowsBuiltins(t *testing.T) {
	var reg *Registry
	v, err := reg.Decode(&JSONCodec{}, TagString, []byte(`"x"`))
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	_, ok := reg.Lookup("jmtp/codec.Ping")
	assert.False(t, ok)
}

func TestRegisterBuiltinTagPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { RegisterType[string](reg) })
	assert.Panics(t, func() { reg.Register(TagObject, nil) })
}

func TestCodecsStayInsideFrameBoundaries(t *testing.T) {
	value := map[string]any{"text": "line one\nline two\r\n\x00\xff tail", "n": 1}
	for _, c := range []Codec{&JSONCodec{}, &JSONIterCodec{}} {
		data, err := c.Marshal(value)
		require.NoError(t, err)
		assert.False(t, bytes.ContainsAny(data, "\n"), "%s output holds a raw newline", c.Type())
		assert.False(t, bytes.Contains(data, []byte{0xFF}), "%s output holds 0xFF", c.Type())
	}
}

func TestParseCodecType(t *testing.T) {
	ct, err := ParseCodecType("jsoniter")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSONIter, ct)
	assert.IsType(t, &JSONIterCodec{}, GetCodec(ct))

	ct, err = ParseCodecType("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, ct)

	_, err = ParseCodecType("hessian")
	assert.Error(t, err)
}

func TestCodecsWriteIdenticalRawCompactJSON(t *testing.T) {
	v := map[string]any{"html": "<b>&</b>", "a": []int{1, 2}}
	for _, c := range []Codec{&JSONCodec{}, &JSONIterCodec{}} {
		t.Run(c.Type().String(), func(t *testing.T) {
			data, err := c.Marshal(v)
			require.NoError(t, err)
			assert.Equal(t, `{"a":[1,2],"html":"<b>&</b>"}`, string(data))

			var back map[string]string
			require.NoError(t, c.Unmarshal([]byte(`{"html":"<b>&</b>"}`), &back))
			assert.Equal(t, "<b>&</b>", back["html"])
		})
	}
}

func TestGenericNumbersKeepEveryDigit(t *testing.T) {
	values := []any{
		int64(9007199254740993), // 2^53 + 1, not representable as float64
		42,
		uint64(1<<64 - 1),
		-7,
		1.5,
	}
	wants := []json.Number{"9007199254740993", "42", "18446744073709551615", "-7", "1.5"}

	for _, c := range []Codec{&JSONCodec{}, &JSONIterCodec{}} {
		t.Run(c.Type().String(), func(t *testing.T) {
			for i, v := range values {
				require.Equal(t, TagObject, TagOf(v))
				data, err := c.Marshal(v)
				require.NoError(t, err)

				got, err := (*Registry)(nil).Decode(c, TagObject, data)
				require.NoError(t, err)
				assert.Equal(t, wants[i], got)

				// Decoded numbers marshal back to the same bytes.
				again, err := c.Marshal(got)
				require.NoError(t, err)
				assert.Equal(t, string(data), string(again))
			}

			got, err := (*Registry)(nil).Decode(c, TagObject, []byte(`{"id":9007199254740993}`))
			require.NoError(t, err)
			id, err := got.(map[string]any)["id"].(json.Number).Int64()
			require.NoError(t, err)
			assert.Equal(t, int64(9007199254740993), id)
		})
	}
}

func TestCodecsRejectTrailingData(t *testing.T) {
	for _, c := range []Codec{&JSONCodec{}, &JSONIterCodec{}} {
		var v any
		assert.Error(t, c.Unmarshal([]byte(`1 2`), &v), c.Type().String())
		assert.Error(t, c.Unmarshal([]byte(`{"a":1}}`), &v), c.Type().String())
		assert.NoError(t, c.Unmarshal([]byte(" 1 "), &v), c.Type().String())
	}
}
