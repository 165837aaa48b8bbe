package util

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParseLinks(t *testing.T) {
	page := `<html><body>
<a href="/">Parent</a>
<a href="JUSUKR_20240307.zip">road</a>
<a href="sub/JUSDG_20240307.ZIP">dong</a>
<a href="JUSUKR_20240307.zip">dup</a>
<a href="readme.txt">readme</a>
<a href="https://other.example/abs.zip">abs</a>
</body></html>`
	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)
	base, err := url.Parse("http://mirror.example/100001/20240307/")
	require.NoError(t, err)

	links := ParseLinks(doc, base, ".zip")
	assert.Equal(t, []string{
		"http://mirror.example/100001/20240307/JUSUKR_20240307.zip",
		"http://mirror.example/100001/20240307/sub/JUSDG_20240307.ZIP",
		"https://other.example/abs.zip",
	}, links)
}
