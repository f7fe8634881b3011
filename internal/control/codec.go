package control

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/steveyegge/pcd/internal/ruleset"
)

// Fixed field widths for the wire payload (spec §6.2: "ruleId:
// {group:[16], rule:[16]}" and "params:[PARAM_MAX]").
const (
	identWidth  = 16
	ParamMax    = 128
	requestSize = 1 + 4 + identWidth*2 + 4 + 4 + ParamMax // op + signal + ruleId + msgId + reserved + params
	replySize   = 4 + 1 + 1 + 2                           // msgId + status + ruleState + padding
)

// EncodeRequest renders req into the fixed-width wire payload described in
// spec §6.2. Group/Rule are truncated to identWidth-1 bytes plus a NUL
// terminator if they don't fit -- a narrower bound than ruleset's 64-byte
// in-memory identifier, inherited as-is from the original wire struct;
// callers that need long rule names should use the in-process Server
// dispatch path rather than the wire codec. Params longer than ParamMax-1
// is an error rather than a silent truncation, since a truncated command
// line is worse than a rejected request.
func EncodeRequest(req Request) ([]byte, error) {
	if len(req.Params) >= ParamMax {
		return nil, fmt.Errorf("control: params length %d exceeds wire limit %d", len(req.Params), ParamMax-1)
	}

	buf := make([]byte, requestSize)
	buf[0] = byte(req.Op)
	union := uint32(req.Signal)
	if req.Op == OpProcessReady {
		union = uint32(req.Pid)
	}
	binary.LittleEndian.PutUint32(buf[1:5], union)
	putIdent(buf[5:5+identWidth], req.RuleID.Group)
	putIdent(buf[5+identWidth:5+2*identWidth], req.RuleID.Rule)
	off := 5 + 2*identWidth
	binary.LittleEndian.PutUint32(buf[off:off+4], req.MsgID)
	off += 8 // skip msgId + 4 reserved bytes for alignment
	copy(buf[off:], req.Params)
	return buf, nil
}

// DecodeRequest parses a wire payload produced by EncodeRequest.
func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) != requestSize {
		return Request{}, fmt.Errorf("control: request payload is %d bytes, want %d", len(buf), requestSize)
	}
	req := Request{Op: OpCode(buf[0])}
	union := int32(binary.LittleEndian.Uint32(buf[1:5]))
	if req.Op == OpProcessReady {
		req.Pid = union
	} else {
		req.Signal = union
	}
	req.RuleID.Group = getIdent(buf[5 : 5+identWidth])
	req.RuleID.Rule = getIdent(buf[5+identWidth : 5+2*identWidth])
	off := 5 + 2*identWidth
	req.MsgID = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 8
	req.Params = getIdent(buf[off:])
	return req, nil
}

// EncodeReply renders reply into its fixed-width wire payload.
func EncodeReply(reply Reply) []byte {
	buf := make([]byte, replySize)
	binary.LittleEndian.PutUint32(buf[0:4], reply.MsgID)
	buf[4] = byte(reply.Status)
	buf[5] = byte(reply.RuleState)
	return buf
}

// DecodeReply parses a wire payload produced by EncodeReply.
func DecodeReply(buf []byte) (Reply, error) {
	if len(buf) != replySize {
		return Reply{}, fmt.Errorf("control: reply payload is %d bytes, want %d", len(buf), replySize)
	}
	return Reply{
		MsgID:     binary.LittleEndian.Uint32(buf[0:4]),
		Status:    Status(buf[4]),
		RuleState: ruleset.RuleState(buf[5]),
	}, nil
}

func putIdent(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getIdent(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}
