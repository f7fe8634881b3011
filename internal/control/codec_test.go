package control

import (
	"strings"
	"testing"

	"github.com/steveyegge/pcd/internal/ruleset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		MsgID:  42,
		Op:     OpSignalProcess,
		RuleID: ruleset.RuleId{Group: "net", Rule: "eth0"},
		Params: "--verbose",
		Signal: 10,
	}
	buf, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestRequestRoundTripProcessReadyPid(t *testing.T) {
	req := Request{
		MsgID: 43,
		Op:    OpProcessReady,
		Pid:   4242,
	}
	buf, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestRequestRejectsOversizedParams(t *testing.T) {
	req := Request{Params: strings.Repeat("x", ParamMax)}
	_, err := EncodeRequest(req)
	assert.Error(t, err)
}

func TestDecodeRequestRejectsWrongSize(t *testing.T) {
	_, err := DecodeRequest([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestReplyRoundTrip(t *testing.T) {
	reply := Reply{MsgID: 7, Status: StatusTimeout, RuleState: ruleset.EndCondWait}
	buf := EncodeReply(reply)
	got, err := DecodeReply(buf)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}
