package pairing

import (
	"crypto/subtle"

	"github.com/pkg/errors"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
)

func (s *Session) OnIOCapabilityRequest(e evt.IOCapabilityRequest) error {
	if s.state != StateIoCapabilityExchange || s.sentCaps {
		return s.unexpected(e.Code())
	}

	oob := hci.OOBNotPresent
	if s.cfg.OOB != nil {
		oob = hci.OOBP192
		if s.cfg.SecureConnections {
			oob = hci.OOBP256
		}
	}
	reply := &cmd.IOCapabilityRequestReply{
		BDADDR:                     s.peer(),
		IOCapability:               s.cfg.IoCapability,
		OOBDataPresent:             oob,
		AuthenticationRequirements: s.cfg.AuthRequirements,
		PublicKey:                  s.keys.Public,
		Commitment:                 s.commitment,
		Nonce:                      s.nonce,
	}
	if s.send(reply) != nil {
		return nil
	}
	s.sentCaps = true

	if s.haveCaps {
		s.negotiate()
		return nil
	}
	s.wait(StateIoCapabilityExchange, s.cfg.Timeouts.IoCapability)
	return nil
}

func (s *Session) OnIOCapabilityResponse(e evt.IOCapabilityResponse) error {
	if s.state != StateIoCapabilityExchange || s.haveCaps {
		return s.unexpected(e.Code())
	}

	// The peer started pairing at the same time we did; the lower address initiates.
	if s.localInitiated && !s.sentCaps {
		if s.cfg.Remote.Less(s.cfg.Local) {
			s.localInitiated = false
			s.log.Warnf("simultaneous pairing, yielding initiator role to %s", s.cfg.Remote)
		} else {
			s.log.Warnf("simultaneous pairing, keeping initiator role")
		}
	}

	io := e.IOCapability
	if !io.Valid() {
		s.log.Warnf("peer reported invalid io capability %s, using %s", io, hci.IoCapNoInputNoOutput)
		io = hci.IoCapNoInputNoOutput
	}
	s.remoteIo = io
	s.remoteAuth = e.AuthenticationRequirements
	s.remoteOOB = e.OOBDataPresent
	s.peerKey = append([]byte(nil), e.PublicKey...)
	s.peerCommit = e.Commitment
	s.haveCaps = true

	if s.sentCaps {
		s.negotiate()
		return nil
	}
	s.wait(StateIoCapabilityExchange, s.cfg.Timeouts.IoCapability)
	return nil
}

func (s *Session) OnUserConfirmationRequest(e evt.UserConfirmationRequest) error {
	if (s.state != StateNumericComparison && s.state != StateJustWorks) || s.userPending || s.replied {
		return s.unexpected(e.Code())
	}
	neg := &cmd.UserConfirmationRequestNegativeReply{BDADDR: s.peer()}

	if err := s.verifyPeerNonce(e.Nonce); err != nil {
		s.reject(neg, err)
		return nil
	}
	v, err := s.numericValue()
	if err != nil {
		s.reject(neg, err)
		return nil
	}
	if v != e.NumericValue {
		s.reject(neg, errors.Wrapf(ErrConfirmationMismatch, "numeric value %06d, computed %06d", e.NumericValue, v))
		return nil
	}

	if s.state == StateJustWorks {
		s.replyAuth(&cmd.UserConfirmationRequestReply{BDADDR: s.peer()})
		return nil
	}

	s.userPending = true
	s.wait(StateNumericComparison, s.cfg.Timeouts.User)
	s.cfg.Observer.RequestConfirmation(s.cfg.Remote, v)
	return nil
}

func (s *Session) OnUserPasskeyRequest(e evt.UserPasskeyRequest) error {
	if s.state != StatePasskeyEntry || s.userPending || s.replied {
		return s.unexpected(e.Code())
	}
	if err := s.verifyPeerNonce(e.Nonce); err != nil {
		s.reject(&cmd.UserPasskeyRequestNegativeReply{BDADDR: s.peer()}, err)
		return nil
	}
	s.passkeyCommit = e.Commitment

	s.userPending = true
	s.wait(StatePasskeyEntry, s.cfg.Timeouts.User)
	s.cfg.Observer.RequestPasskey(s.cfg.Remote)
	return nil
}

// OnUserPasskeyNotification handles the display side of passkey entry.
// There is nothing to reply; the peer's input completes the stage.
func (s *Session) OnUserPasskeyNotification(e evt.UserPasskeyNotification) error {
	if s.state != StatePasskeyEntry || s.userPending || s.replied {
		return s.unexpected(e.Code())
	}
	if err := s.verifyPeerNonce(e.Nonce); err != nil {
		s.fail(reasonFor(err), err)
		return nil
	}

	s.replied = true
	s.wait(StatePasskeyEntry, s.cfg.Timeouts.User)
	s.cfg.Observer.DisplayPasskey(s.cfg.Remote, e.Passkey)
	return nil
}

func (s *Session) OnKeypressNotification(e evt.KeypressNotification) error {
	if s.state != StatePasskeyEntry {
		return s.unexpected(e.Code())
	}
	s.wait(StatePasskeyEntry, s.cfg.Timeouts.User)
	s.cfg.Observer.Keypress(s.cfg.Remote, e.NotificationType)
	return nil
}

func (s *Session) OnRemoteOOBDataRequest(e evt.RemoteOOBDataRequest) error {
	if s.state != StateOutOfBand || s.replied {
		return s.unexpected(e.Code())
	}
	neg := &cmd.RemoteOOBDataRequestNegativeReply{BDADDR: s.peer()}

	if err := s.verifyPeerNonce(e.Nonce); err != nil {
		s.reject(neg, err)
		return nil
	}

	// Without data for the peer, reply with zero C and R; only the peer
	// authenticates us.
	reply := &cmd.RemoteOOBDataRequestReply{BDADDR: s.peer()}
	if o := s.cfg.OOB; o != nil {
		x := s.peerX()
		c, err := s.cfg.Crypto.F1(x, x, o.R, 0)
		if err != nil {
			s.reject(neg, err)
			return nil
		}
		if subtle.ConstantTimeCompare(c[:], o.C[:]) != 1 {
			s.reject(neg, errors.Wrap(ErrConfirmationMismatch, "out of band commitment"))
			return nil
		}
		reply.C, reply.R = o.C, o.R
	}
	s.replyAuth(reply)
	return nil
}

func (s *Session) OnSimplePairingComplete(e evt.SimplePairingComplete) error {
	switch s.state {
	case StateIoCapabilityExchange, StateNumericComparison, StatePasskeyEntry, StateOutOfBand, StateJustWorks:
	default:
		return s.unexpected(e.Code())
	}

	if e.Status != hci.StatusSuccess {
		s.withdraw()
		// An authentication failure after our passkey was accepted means the
		// controller found the two entered passkeys differ.
		if s.entered && e.Status == hci.StatusAuthenticationFailure {
			s.fail(ReasonConfirmationMismatch,
				errors.Wrap(ErrConfirmationMismatch, "simple pairing complete: entered passkeys differ"))
			return nil
		}
		s.fail(ReasonAuthenticationFailed,
			errors.Wrapf(ErrAuthenticationFailed, "simple pairing complete: %s", hci.StatusString(e.Status)))
		return nil
	}
	if s.state == StateIoCapabilityExchange || !s.replied {
		return s.unexpected(e.Code())
	}

	key, err := s.deriveLinkKey()
	if err != nil {
		s.fail(ReasonCryptoFailure, err)
		return nil
	}
	s.linkKey = key
	s.keyType = KeyType(s.model, s.cfg.SecureConnections)
	s.wait(StateLinkKeyExchange, s.cfg.Timeouts.KeyExchange)
	return nil
}

func (s *Session) OnLinkKeyRequest(e evt.LinkKeyRequest) error {
	switch {
	case s.state == StateIoCapabilityExchange && !s.sentCaps && !s.haveCaps:
		// Force fresh pairing even if a stale key is stored.
		s.send(&cmd.LinkKeyRequestNegativeReply{BDADDR: s.peer()})
		return nil
	case s.state == StateLinkKeyExchange:
		s.send(&cmd.LinkKeyRequestReply{BDADDR: s.peer(), LinkKey: s.linkKey})
		return nil
	}
	return s.unexpected(e.Code())
}

func (s *Session) OnLinkKeyNotification(e evt.LinkKeyNotification) error {
	if s.state != StateLinkKeyExchange {
		return s.unexpected(e.Code())
	}
	if subtle.ConstantTimeCompare(e.LinkKey[:], s.linkKey[:]) != 1 {
		s.fail(ReasonConfirmationMismatch, errors.Wrap(ErrConfirmationMismatch, "notified link key differs from derived key"))
		return nil
	}
	if e.KeyType != s.keyType {
		s.log.Warnf("controller reports %s key, derived %s", e.KeyType, s.keyType)
	}

	s.wait(StateEncryptionPending, s.cfg.Timeouts.Encryption)
	if s.localInitiated && s.authenticated {
		s.enableEncryption()
	}
	return nil
}

func (s *Session) OnAuthenticationComplete(e evt.AuthenticationComplete) error {
	if e.Status != hci.StatusSuccess {
		if s.state == StateIdle {
			return s.unexpected(e.Code())
		}
		s.withdraw()
		s.fail(ReasonAuthenticationFailed,
			errors.Wrapf(ErrAuthenticationFailed, "authentication complete: %s", hci.StatusString(e.Status)))
		return nil
	}

	if (s.state != StateLinkKeyExchange && s.state != StateEncryptionPending) || s.authenticated {
		return s.unexpected(e.Code())
	}
	s.authenticated = true
	if s.state == StateEncryptionPending && s.localInitiated {
		s.enableEncryption()
	}
	return nil
}

func (s *Session) OnEncryptionChange(e evt.EncryptionChange) error {
	if s.state != StateEncryptionPending {
		return s.unexpected(e.Code())
	}
	if e.Status != hci.StatusSuccess || e.EncryptionEnabled == 0 {
		s.fail(ReasonEncryptionFailed,
			errors.Wrapf(ErrEncryptionFailed, "status %s, enabled %d", hci.StatusString(e.Status), e.EncryptionEnabled))
		return nil
	}

	// Bonded is published only once the record is stored.
	if err := s.cfg.Bonds.Put(s.cfg.Remote, s.record()); err != nil {
		s.fail(ReasonStorageUnavailable, err)
		return nil
	}
	s.finish(StateBonded, Outcome{Kind: OutcomeSuccess, KeyType: s.keyType})
	return nil
}
