package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{0, "0.00 B"},
		{1024, "1.00 KiB"},
		{10000, "9.77 KiB"},
		{1024 * 1024, "1.00 MiB"},
		{1024 * 1024 * 1024, "1.00 GiB"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatSize(c.bytes))
	}
}
