package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		id   any
		want string
	}{
		{"string id", "at://did:plc:abc/post/1", "at://did:plc:abc/post/1"},
		{"integral float id", float64(123), "123"},
		{"fractional float id", 1.5, "1.5"},
		{"int id", 42, "42"},
		{"bool id", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("UserId", tt.id)
			assert.Equal(t, "UserId", e.Type)
			assert.Equal(t, tt.want, e.ID)
		})
	}
}

func TestString(t *testing.T) {
	e := New("Post", "at://post/1")
	assert.Equal(t, "Post:at://post/1", e.String())
}
