package control

import (
	"context"
	"errors"

	"github.com/zsiec/moqrelay/moq"
	"github.com/zsiec/moqrelay/session"
)

// HandleReply attempts to route an inbound control message as the reply to
// a request this session's own Context previously registered (e.g. a
// SUBSCRIBE or FETCH the relay forwarded upstream while acting as a
// subscriber of this session). It reports whether the message was consumed
// as such a reply; the caller should fall back to normal request handling
// when it returns false with a nil error.
//
// This exists because SUBSCRIBE_OK/SUBSCRIBE_ERROR/FETCH_OK/FETCH_ERROR are
// never themselves requests a session's control-read loop dispatches by
// type alone — they only ever complete a pending outbound request, and the
// relay has no other session-scoped place to intercept them before the
// blocked handler goroutine is woken.
func (h *Handler) HandleReply(msgType uint64, payload []byte) (bool, error) {
	var reqID uint64
	switch msgType {
	case moq.MsgSubscribeOk:
		ok, err := moq.DecodeSubscribeOk(payload)
		if err != nil {
			return false, err
		}
		reqID = ok.RequestID
	case moq.MsgSubscribeError:
		e, err := moq.DecodeSubscribeError(payload)
		if err != nil {
			return false, err
		}
		reqID = e.RequestID
	case moq.MsgFetchOk:
		ok, err := moq.DecodeFetchOk(payload)
		if err != nil {
			return false, err
		}
		reqID = ok.RequestID
	case moq.MsgFetchError:
		e, err := moq.DecodeFetchError(payload)
		if err != nil {
			return false, err
		}
		reqID = e.RequestID
	default:
		return false, nil
	}

	err := h.sess.CompleteReply(reqID, session.ReplyMessage{Type: msgType, Payload: payload})
	if errors.Is(err, session.ErrUnknownRequestID) {
		return false, nil
	}
	return true, err
}
