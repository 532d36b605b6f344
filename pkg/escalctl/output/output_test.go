package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Format
	}{
		{"", FormatTable},
		{"table", FormatTable},
		{"json", FormatJSON},
		{"yaml", FormatYAML},
		{"wide", FormatWide},
	} {
		got, err := ParseFormat(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format: xml")
}

func TestWriteObject(t *testing.T) {
	obj := map[string]int{"chamado": 7}

	buf := &bytes.Buffer{}
	require.NoError(t, WriteObject(buf, FormatJSON, obj))
	assert.JSONEq(t, `{"chamado":7}`, buf.String())

	buf.Reset()
	require.NoError(t, WriteObject(buf, FormatYAML, obj))
	assert.Contains(t, buf.String(), "chamado: 7")

	require.Error(t, WriteObject(buf, FormatTable, obj))
	require.Error(t, WriteObject(buf, FormatWide, obj))
	require.Error(t, WriteObject(buf, Format("xml"), obj))
}
