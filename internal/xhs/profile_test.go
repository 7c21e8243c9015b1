package xhs

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

const profileHTML = `<html><head><script>var x = 1;</script>
<script>window.__INITIAL_STATE__={"user":{"userPageData":{"basicInfo":{"nickname":"maker","gender":1,"images":"https://img/a","desc":"hello","ipLocation":"Shanghai"},"interactions":[{"type":"follows","count":"10"},{"type":"fans","count":"2万"},{"type":"interaction","count":99}],"tags":[{"name":"coffee"},{"name":""}]},"extra":undefined}}</script>
</head><body></body></html>`

func TestParseProfile(t *testing.T) {
	t.Parallel()

	creator, err := parseProfile([]byte(profileHTML))
	require.NoError(t, err)
	require.NotNil(t, creator)
	require.Equal(t, "maker", creator.Nickname)
	require.Equal(t, "female", creator.Gender)
	require.Equal(t, "Shanghai", creator.IPLocation)
	require.Equal(t, "10", creator.Follows)
	require.Equal(t, "2万", creator.Fans)
	require.Equal(t, "99", creator.Interaction)
	require.Equal(t, []string{"coffee"}, creator.Tags)
}

func TestParseProfileWithoutState(t *testing.T) {
	t.Parallel()

	creator, err := parseProfile([]byte(`<html><script>console.log(1)</script></html>`))
	require.NoError(t, err)
	require.Nil(t, creator)

	creator, err = parseProfile([]byte(`<script>window.__INITIAL_STATE__={"user":{"userPageData":{}}}</script>`))
	require.NoError(t, err)
	require.Nil(t, creator)

	_, err = parseProfile([]byte(`<script>window.__INITIAL_STATE__={broken</script>`))
	require.Error(t, err)
}

func TestCreatorInfoFetchesProfilePage(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/profile/u1", r.URL.Path)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(profileHTML))
	}))
	creator, err := c.CreatorInfo(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", creator.UserID)
	require.Equal(t, "maker", creator.Nickname)
}
