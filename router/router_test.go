package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/hopnode/session"
)

func TestDispatchPrefixMatch(t *testing.T) {
	r := New()
	var got []byte
	r.Register("/hopnode/ping/1.0", HandlerFunc(func(sess *session.Context, body []byte) Verdict {
		got = body
		return Keep
	}))

	v := r.Dispatch(nil, []byte("/hopnode/ping/1.0\nhello"))
	require.Equal(t, Keep, v)
	require.Equal(t, "/hopnode/ping/1.0\nhello", string(got))
}

func TestDispatchUnmatchedIsError(t *testing.T) {
	r := New()
	r.Register("/hopnode/ping/1.0", HandlerFunc(func(sess *session.Context, body []byte) Verdict {
		return Keep
	}))

	v := r.Dispatch(nil, []byte("/unknown/1.0\nhi"))
	require.Equal(t, Error, v)
}

func TestProtocolsReflectsRegistrationOrder(t *testing.T) {
	r := New()
	noop := HandlerFunc(func(sess *session.Context, body []byte) Verdict { return Keep })
	r.Register("/a/1.0", noop)
	r.Register("/b/1.0", noop)
	require.Equal(t, []string{"/a/1.0", "/b/1.0"}, r.Protocols())
}

func TestFirstMatchWins(t *testing.T) {
	r := New()
	calls := 0
	first := HandlerFunc(func(sess *session.Context, body []byte) Verdict {
		calls++
		return Keep
	})
	second := HandlerFunc(func(sess *session.Context, body []byte) Verdict {
		t.Fatal("second handler should never run")
		return Error
	})
	r.Register("/dup/1.0", first)
	r.Register("/dup/1.0", second)

	r.Dispatch(nil, []byte("/dup/1.0\nx"))
	require.Equal(t, 1, calls)
}
