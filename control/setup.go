package control

import (
	"context"

	"github.com/zsiec/moqrelay/moq"
)

// HandleSetup processes a CLIENT_SETUP, negotiating a version, running
// setup_publisher/setup_subscriber against the relation manager according
// to the negotiated role, and replying with SERVER_SETUP. A version
// mismatch is a tier-3 violation per spec §7: the caller tears the whole
// session down rather than this method replying with an error message, so
// it returns moq.ErrVersionMismatch rather than writing a reply.
func (h *Handler) HandleSetup(ctx context.Context, msg moq.ClientSetup) error {
	if _, ok := negotiateVersion(msg.Versions); !ok {
		return moq.ErrVersionMismatch
	}

	maxID := h.defaultMaxSubscribeID
	if v, ok := msg.Params.Varints[moq.ParamMaxSubscribeID]; ok {
		maxID = v
	}

	role, _ := msg.Role()
	switch role {
	case moq.RolePublisher:
		if err := h.sess.Relation.SetupPublisher(ctx, h.sess.ID, maxID); err != nil {
			return err
		}
	case moq.RoleSubscriber:
		if err := h.sess.Relation.SetupSubscriber(ctx, h.sess.ID, maxID); err != nil {
			return err
		}
	default:
		// RolePubSub, or a client that omitted the role parameter: set up
		// both sides so either direction of traffic is accepted.
		if err := h.sess.Relation.SetupPublisher(ctx, h.sess.ID, maxID); err != nil {
			return err
		}
		if err := h.sess.Relation.SetupSubscriber(ctx, h.sess.ID, maxID); err != nil {
			return err
		}
	}

	reply := moq.ServerSetup{SelectedVersion: moq.Version, Params: moq.NewParameters()}
	return h.send(ctx, moq.MsgServerSetup, reply.Encode())
}

// HandleMaxSubscribeID raises this session's negotiated subscribe-id cap in
// the relation manager (SUPPLEMENTED FEATURES: MAX_SUBSCRIBE_ID flow
// control).
func (h *Handler) HandleMaxSubscribeID(ctx context.Context, msg moq.MaxSubscribeID) error {
	return h.sess.Relation.RaiseMaxSubscribeID(ctx, h.sess.ID, msg.SubscribeID)
}

// HandleGoAway logs receipt of a peer-initiated GOAWAY. The relay has no
// redirect target of its own to offer back, so there is nothing further to
// do here. Receiving GOAWAY does not end the session: the control read loop
// keeps reading until the peer closes the stream or the connection.
func (h *Handler) HandleGoAway(ctx context.Context, msg moq.GoAway) error {
	h.log.Info("received GOAWAY", "new_session_uri", msg.NewSessionURI)
	return nil
}

func negotiateVersion(versions []uint64) (uint64, bool) {
	for _, v := range versions {
		if v == moq.Version {
			return v, true
		}
	}
	return 0, false
}
