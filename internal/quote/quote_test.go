package quote

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkShape(t *testing.T) {
	s := New("https://quotes.example.com/", "secret-1")
	link := s.Link("206", "1042")

	assert.True(t, strings.HasPrefix(link, "https://quotes.example.com/compare?id=206-1042-"), link)
	token := link[strings.LastIndex(link, "-")+1:]
	assert.Len(t, token, 8)
	assert.True(t, s.Verify("206", "1042", token))
}

func TestLinkIsDeterministic(t *testing.T) {
	s := New("", "")
	assert.Equal(t, s.Link("1", "2"), s.Link("1", "2"))
	assert.NotEqual(t, s.Link("1", "2"), s.Link("1", "3"))
	assert.True(t, strings.HasPrefix(s.Link("1", "2"), DefaultBaseURL+"/compare?id="))
}

func TestVerifyRejects(t *testing.T) {
	s := New("https://q.example.com", "secret-1")

	assert.False(t, s.Verify("206", "1042", "00000000"))
	assert.False(t, s.Verify("206", "1042", ""))
	assert.False(t, s.Verify("206", "1042", s.Link("206", "1042")), "full link is not a token")

	// A token minted under a different secret must not verify.
	other := New("https://q.example.com", "secret-2")
	link := other.Link("206", "1042")
	token := link[strings.LastIndex(link, "-")+1:]
	assert.False(t, s.Verify("206", "1042", token))
}

func TestVerifyID(t *testing.T) {
	s := New("", "k")
	link := s.Link("206", "1042")
	id := link[strings.Index(link, "=")+1:]

	orgID, contactID, ok := s.VerifyID(id)
	require.True(t, ok)
	assert.Equal(t, "206", orgID)
	assert.Equal(t, "1042", contactID)

	_, _, ok = s.VerifyID("206-1042-deadbeef")
	assert.False(t, ok)
	_, _, ok = s.VerifyID("garbage")
	assert.False(t, ok)
}

func TestVerifyIDWithHyphenatedContact(t *testing.T) {
	s := New("", "k")
	link := s.Link("9", "uuid-with-hyphens")
	id := link[strings.Index(link, "=")+1:]

	orgID, contactID, ok := s.VerifyID(id)
	require.True(t, ok)
	assert.Equal(t, "9", orgID)
	assert.Equal(t, "uuid-with-hyphens", contactID)
}
