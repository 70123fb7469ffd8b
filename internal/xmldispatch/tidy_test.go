package xmldispatch

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTidyReindentsWithoutChangingContent(t *testing.T) {
	in := `<root><a id="1"><b>text</b></a></root>`
	var out bytes.Buffer
	require.NoError(t, Tidy(bytes.NewBufferString(in), &out))

	result := out.String()
	assert.Contains(t, result, "<a id=\"1\">")
	assert.Contains(t, result, "<b>text</b>")
	assert.Contains(t, result, "\n")
}
