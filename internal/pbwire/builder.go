package pbwire

import "google.golang.org/protobuf/encoding/protowire"

// Builder appends fields to an encoded message. The zero value is ready to use.
type Builder struct {
	b []byte
}

func (m *Builder) Varint(num protowire.Number, v uint64) *Builder {
	m.b = protowire.AppendTag(m.b, num, protowire.VarintType)
	m.b = protowire.AppendVarint(m.b, v)
	return m
}

func (m *Builder) Bool(num protowire.Number, v bool) *Builder {
	if !v {
		return m
	}
	return m.Varint(num, 1)
}

func (m *Builder) String(num protowire.Number, s string) *Builder {
	return m.Raw(num, []byte(s))
}

// Raw appends an already encoded length-delimited value.
func (m *Builder) Raw(num protowire.Number, v []byte) *Builder {
	m.b = protowire.AppendTag(m.b, num, protowire.BytesType)
	m.b = protowire.AppendBytes(m.b, v)
	return m
}

// Message appends a nested message built by fn.
func (m *Builder) Message(num protowire.Number, fn func(*Builder)) *Builder {
	var nested Builder
	fn(&nested)
	return m.Raw(num, nested.b)
}

func (m *Builder) Bytes() []byte {
	return m.b
}
