package sim

import (
	"github.com/pkg/errors"
	"github.com/rigado/ssp/hci"
	"github.com/rigado/ssp/hci/cmd"
	"github.com/rigado/ssp/hci/evt"
	"github.com/rigado/ssp/pairing"
	"github.com/rigado/ssp/sspcrypto"
)

func (l *Link) commandLocked(i int, c hci.Command) error {
	switch c := c.(type) {
	case *cmd.AuthenticationRequested:
		return l.onAuthenticationRequested(i, c)
	case *cmd.LinkKeyRequestReply:
		l.onLinkKey(i, &c.LinkKey)
	case *cmd.LinkKeyRequestNegativeReply:
		l.onLinkKey(i, nil)
	case *cmd.IOCapabilityRequestReply:
		l.onCapabilities(i, c)
	case *cmd.IOCapabilityRequestNegativeReply:
		status := c.Reason
		if status == hci.StatusSuccess {
			status = hci.StatusPairingNotAllowed
		}
		l.failLocked(status)
	case *cmd.UserConfirmationRequestReply:
		l.acceptLocked(i, stageAuth)
	case *cmd.UserPasskeyRequestReply:
		l.onPasskey(i, c.NumericValue)
	case *cmd.RemoteOOBDataRequestReply:
		l.acceptLocked(i, stageAuth)
	case *cmd.UserConfirmationRequestNegativeReply,
		*cmd.UserPasskeyRequestNegativeReply,
		*cmd.RemoteOOBDataRequestNegativeReply:
		if l.stage == stageAuth {
			l.failLocked(hci.StatusAuthenticationFailure)
		}
	case *cmd.SetConnectionEncryption:
		return l.onSetEncryption(i, c)
	default:
		return errors.Errorf("unsupported command %s", cmd.Name(c.OpCode()))
	}
	return nil
}

func (l *Link) resetLocked() {
	l.stage = stageIdle
	l.initiator = -1
	l.caps = [2]*cmd.IOCapabilityRequestReply{}
	l.accepted = [2]bool{}
	l.entered = [2]*uint32{}
	l.displayed = false
	l.keys = [2]*[16]byte{}
}

// failLocked ends the pairing on both controllers.
func (l *Link) failLocked(status uint8) {
	if l.stage == stageIdle {
		return
	}
	l.log.Debugf("pairing failed: %s", hci.StatusString(status))
	for i := range l.sides {
		l.deliverLocked(i, evt.SimplePairingComplete{Status: status, BDADDR: l.peerLocked(i)})
	}
	l.resetLocked()
}

func (l *Link) onAuthenticationRequested(i int, c *cmd.AuthenticationRequested) error {
	if c.ConnectionHandle != l.handle {
		return errors.Wrapf(ErrNoConnection, "handle 0x%04x", c.ConnectionHandle)
	}
	if l.stage != stageIdle {
		l.deliverLocked(i, evt.AuthenticationComplete{Status: hci.StatusHostBusyPairing, ConnectionHandle: l.handle})
		return nil
	}
	l.resetLocked()
	l.stage = stageLinkKey
	l.initiator = i
	l.deliverLocked(i, evt.LinkKeyRequest{BDADDR: l.peerLocked(i)})
	return nil
}

func (l *Link) onLinkKey(i int, key *[16]byte) {
	switch l.stage {
	case stageLinkKey:
		if i != l.initiator {
			return
		}
		if key != nil {
			// Authenticated with the stored key; no pairing needed.
			l.stage = stageEncrypt
			l.deliverLocked(i, evt.AuthenticationComplete{ConnectionHandle: l.handle})
			return
		}
		l.stage = stageCaps
		l.deliverLocked(i, evt.IOCapabilityRequest{BDADDR: l.peerLocked(i)})

	case stageKeys:
		if key == nil {
			l.log.Debugf("%s has no link key", l.sides[i].addr)
			l.deliverLocked(l.initiator, evt.AuthenticationComplete{Status: hci.StatusPinOrKeyMissing, ConnectionHandle: l.handle})
			l.resetLocked()
			return
		}
		k := *key
		l.keys[i] = &k
		if l.keys[0] == nil || l.keys[1] == nil {
			return
		}
		if *l.keys[0] != *l.keys[1] {
			l.deliverLocked(l.initiator, evt.AuthenticationComplete{Status: hci.StatusAuthenticationFailure, ConnectionHandle: l.handle})
			l.resetLocked()
			return
		}
		kt := pairing.KeyType(l.model, l.p256)
		for j := range l.sides {
			l.deliverLocked(j, evt.LinkKeyNotification{BDADDR: l.peerLocked(j), LinkKey: k, KeyType: kt})
		}
		l.stage = stageEncrypt
		l.deliverLocked(l.initiator, evt.AuthenticationComplete{ConnectionHandle: l.handle})
	}
}

func (l *Link) onCapabilities(i int, c *cmd.IOCapabilityRequestReply) {
	if l.stage != stageCaps {
		return
	}
	cp := *c
	cp.PublicKey = append([]byte(nil), c.PublicKey...)
	l.caps[i] = &cp

	j := 1 - i
	l.deliverLocked(j, evt.IOCapabilityResponse{
		BDADDR:                     l.peerLocked(j),
		IOCapability:               c.IOCapability,
		OOBDataPresent:             c.OOBDataPresent,
		AuthenticationRequirements: c.AuthenticationRequirements,
		PublicKey:                  cp.PublicKey,
		Commitment:                 c.Commitment,
	})
	if i == l.initiator {
		l.deliverLocked(j, evt.IOCapabilityRequest{BDADDR: l.peerLocked(j)})
		return
	}
	l.startAuthLocked()
}

func (l *Link) startAuthLocked() {
	ini, rsp := l.caps[l.initiator], l.caps[1-l.initiator]
	if len(ini.PublicKey) != len(rsp.PublicKey) || len(ini.PublicKey) == 0 {
		l.failLocked(hci.StatusSimplePairingNotSupported)
		return
	}
	l.p256 = len(ini.PublicKey) == 2*sspcrypto.P256.Size()

	mitm := ini.AuthenticationRequirements.MITM() || rsp.AuthenticationRequirements.MITM()
	oob := ini.OOBDataPresent.Present() || rsp.OOBDataPresent.Present()
	l.model = pairing.SelectModel(ini.IOCapability, rsp.IOCapability, mitm, oob)
	l.stage = stageAuth
	l.log.Debugf("authentication stage: %s", l.model)

	switch l.model {
	case pairing.ModelOutOfBand:
		for i := range l.sides {
			l.deliverLocked(i, evt.RemoteOOBDataRequest{BDADDR: l.peerLocked(i), Nonce: l.caps[1-i].Nonce})
		}

	case pairing.ModelPasskeyEntry:
		l.startPasskeyLocked()

	default:
		v, err := sspcrypto.G(half(ini.PublicKey), half(rsp.PublicKey), ini.Nonce, rsp.Nonce)
		if err != nil {
			l.failLocked(hci.StatusUnspecifiedError)
			return
		}
		if l.tamper {
			v = (v + 1) % 1000000
		}
		for i := range l.sides {
			l.deliverLocked(i, evt.UserConfirmationRequest{BDADDR: l.peerLocked(i), NumericValue: v, Nonce: l.caps[1-i].Nonce})
		}
	}
}

func half(k []byte) []byte { return k[:len(k)/2] }

// startPasskeyLocked asks keyboard sides for the passkey. When only one side
// has a keyboard the other displays a generated passkey.
func (l *Link) startPasskeyLocked() {
	var kbd [2]bool
	for i, c := range l.caps {
		kbd[i] = c.IOCapability == hci.IoCapKeyboardOnly
	}

	l.displayed = !kbd[0] || !kbd[1]
	if l.displayed {
		pk, err := sspcrypto.NewPasskey()
		if err != nil {
			l.failLocked(hci.StatusUnspecifiedError)
			return
		}
		l.passkey = pk
	}
	for i := range l.sides {
		if kbd[i] {
			e := evt.UserPasskeyRequest{BDADDR: l.peerLocked(i), Nonce: l.caps[1-i].Nonce}
			if l.displayed {
				// The displaying side commits to its passkey.
				c, err := sspcrypto.F1(half(l.caps[1-i].PublicKey), half(l.caps[i].PublicKey),
					sspcrypto.PasskeyNonce(l.caps[1-i].Nonce, l.passkey), sspcrypto.PasskeyCommitZ)
				if err != nil {
					l.failLocked(hci.StatusUnspecifiedError)
					return
				}
				e.Commitment = c
			}
			l.deliverLocked(i, e)
			continue
		}
		l.accepted[i] = true
		l.deliverLocked(i, evt.UserPasskeyNotification{BDADDR: l.peerLocked(i), Passkey: l.passkey, Nonce: l.caps[1-i].Nonce})
	}
}

func (l *Link) onPasskey(i int, v uint32) {
	if l.stage != stageAuth || l.model != pairing.ModelPasskeyEntry {
		return
	}
	l.entered[i] = &v

	other := l.entered[1-i]
	switch {
	case l.displayed && v != l.passkey:
		l.failLocked(hci.StatusAuthenticationFailure)
	case other != nil && *other != v:
		l.failLocked(hci.StatusAuthenticationFailure)
	default:
		l.acceptLocked(i, stageAuth)
	}
}

// acceptLocked records that side i completed the authentication stage and
// moves on once both have.
func (l *Link) acceptLocked(i int, st stage) {
	if l.stage != st {
		return
	}
	l.accepted[i] = true
	if !l.accepted[0] || !l.accepted[1] {
		return
	}

	l.stage = stageKeys
	for j := range l.sides {
		l.deliverLocked(j, evt.SimplePairingComplete{Status: hci.StatusSuccess, BDADDR: l.peerLocked(j)})
	}
	for j := range l.sides {
		l.deliverLocked(j, evt.LinkKeyRequest{BDADDR: l.peerLocked(j)})
	}
}

func (l *Link) onSetEncryption(i int, c *cmd.SetConnectionEncryption) error {
	if c.ConnectionHandle != l.handle {
		return errors.Wrapf(ErrNoConnection, "handle 0x%04x", c.ConnectionHandle)
	}
	if l.stage != stageEncrypt {
		l.deliverLocked(i, evt.EncryptionChange{Status: hci.StatusInsufficientSecurity, ConnectionHandle: l.handle})
		return nil
	}

	var on uint8
	if l.encStatus == hci.StatusSuccess && c.EncryptionEnabled != 0 {
		on = 1
	}
	for j := range l.sides {
		l.deliverLocked(j, evt.EncryptionChange{Status: l.encStatus, ConnectionHandle: l.handle, EncryptionEnabled: on})
	}
	l.resetLocked()
	return nil
}
