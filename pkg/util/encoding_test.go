package util

import (
	"bytes"
	"testing"
)

func TestWriteVarIntSizes(t *testing.T) {
	tests := []struct {
		val  uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{0xfc, []byte{0xfc}},
		{0xfd, []byte{0xfd, 0xfd, 0x00}},
		{0xffff, []byte{0xfd, 0xff, 0xff}},
		{0x10000, []byte{0xfe, 0x00, 0x00, 0x01, 0x00}},
		{0xffffffff, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}},
		{0x100000000, []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		got := WriteVarInt(tt.val)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("WriteVarInt(%d) = %x, want %x", tt.val, got, tt.want)
		}
	}
}

func TestWriteScriptLenSizes(t *testing.T) {
	tests := []struct {
		length int
		want   []byte
	}{
		{0, []byte{0x00}},
		{0x4b, []byte{0x4b}},
		{0x4c, []byte{0x4c, 0x4c}},
		{0xff, []byte{0x4c, 0xff}},
		{0x100, []byte{0x4d, 0x00, 0x01}},
		{0xffff, []byte{0x4d, 0xff, 0xff}},
		{0x10000, []byte{0x4e, 0x00, 0x00, 0x01, 0x00}},
	}

	for _, tt := range tests {
		got := WriteScriptLen(tt.length)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("WriteScriptLen(%d) = %x, want %x", tt.length, got, tt.want)
		}
	}
}
