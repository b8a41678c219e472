package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSelectors_ParsesKeyValuePairs(t *testing.T) {
	t.Parallel()

	got := parseSelectors([]string{"os=linux", "arch=x64"})

	assert.Equal(t, map[string]string{"os": "linux", "arch": "x64"}, got)
}

func TestParseSelectors_DropsMalformedTokensSilently(t *testing.T) {
	t.Parallel()

	got := parseSelectors([]string{"os=linux", "noequals", "=emptykey", "emptyvalue="})

	assert.Equal(t, map[string]string{"os": "linux"}, got)
}

func TestParseSelectors_EmptyInputReturnsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseSelectors(nil))
}
