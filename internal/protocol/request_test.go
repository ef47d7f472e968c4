package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/secsearch/errs"
)

func TestParseRequestAppliesOverrides(t *testing.T) {
	q, err := ParseRequest([]byte(`{"request":{"query_string":"VOD","max_results":2,"yk_filter":"YK_FILTER_EQTY","unknown":true}}`))
	require.NoError(t, err)
	require.Equal(t, "VOD", q.QueryString)
	require.Equal(t, 2, q.MaxResults)
	require.Equal(t, "YK_FILTER_EQTY", q.YKFilter)
	require.Equal(t, DefaultRequestType, q.RequestType)
	require.Nil(t, q.Filters)
}

func TestParseRequestWithoutRequestMemberUsesDefaults(t *testing.T) {
	for _, body := range []string{`{}`, `{"other":1}`, `{"request":null}`} {
		q, err := ParseRequest([]byte(body))
		require.NoError(t, err, body)
		require.Equal(t, DefaultQuery(), q, body)
		require.Equal(t, "IBM", q.QueryString)
		require.Equal(t, 10, q.MaxResults)
	}
}

func TestParseRequestIgnoresInvalidMaxResults(t *testing.T) {
	cases := []string{
		`{"request":{"max_results":0}}`,
		`{"request":{"max_results":-4}}`,
		`{"request":{"max_results":65535}}`,
		`{"request":{"max_results":100000}}`,
		`{"request":{"max_results":2.5}}`,
		`{"request":{"max_results":"5"}}`,
		`{"request":{"max_results":true}}`,
		`{"request":{"max_results":null}}`,
	}
	for _, body := range cases {
		q, err := ParseRequest([]byte(body))
		require.NoError(t, err, body)
		require.Equal(t, DefaultMaxResults, q.MaxResults, body)
	}

	q, err := ParseRequest([]byte(`{"request":{"max_results":65534}}`))
	require.NoError(t, err)
	require.Equal(t, 65534, q.MaxResults)
}

func TestParseRequestIgnoresEmptyAndMistypedText(t *testing.T) {
	q, err := ParseRequest([]byte(`{"request":{"query_string":"","yk_filter":7,"request_type":""}}`))
	require.NoError(t, err)
	require.Equal(t, DefaultQuery(), q)
}

func TestParseRequestMalformed(t *testing.T) {
	for _, body := range []string{`{not json}`, `{"request":}`, `{"request":[1,2]}`, `{"request":"IBM"}`} {
		_, err := ParseRequest([]byte(body))
		require.True(t, errs.IsCode(err, errs.CodeMalformedRequest), "%s: %v", body, err)
	}
}

func TestParseRequestFiltersAndRequestType(t *testing.T) {
	q, err := ParseRequest([]byte(`{"request":{"request_type":"govtListRequest","filters":{"ticker":"T","partialMatch":"true","bad":1," ":"x"}}}`))
	require.NoError(t, err)
	require.Equal(t, "govtListRequest", q.RequestType)
	require.Equal(t, map[string]string{"ticker": "T", "partialMatch": "true"}, q.Filters)
}

func TestWithFilterDefaultsPrefersClientValues(t *testing.T) {
	q := DefaultQuery()
	q.Filters = map[string]string{"languageOverride": "LANG_OVERRIDE_ENGLISH"}

	merged := q.WithFilterDefaults(map[string]string{
		"languageOverride": "LANG_OVERRIDE_NONE",
		"extra":            "x",
	})
	require.Equal(t, "LANG_OVERRIDE_ENGLISH", merged.Filters["languageOverride"])
	require.Equal(t, "x", merged.Filters["extra"])
	require.Len(t, q.Filters, 1, "original query must not change")
}
