// Package evt models the controller events that drive classic pairing.
//
// The set of events is closed: every event type implements Dispatch by
// calling the matching Handler method, so a consumer implementing Handler
// fails to compile until it handles a newly added event kind.
package evt

import "github.com/rigado/ssp/hci"

// Event is one of the pairing related controller events.
type Event interface {
	Code() Code
	Dispatch(h Handler) error

	// Peer returns the BD_ADDR carried by the event, in wire order. Events
	// addressed by connection handle report false.
	Peer() ([6]byte, bool)
}

// Handler consumes events. Each method corresponds to one Event type.
type Handler interface {
	OnIOCapabilityRequest(IOCapabilityRequest) error
	OnIOCapabilityResponse(IOCapabilityResponse) error
	OnUserConfirmationRequest(UserConfirmationRequest) error
	OnUserPasskeyRequest(UserPasskeyRequest) error
	OnUserPasskeyNotification(UserPasskeyNotification) error
	OnKeypressNotification(KeypressNotification) error
	OnRemoteOOBDataRequest(RemoteOOBDataRequest) error
	OnSimplePairingComplete(SimplePairingComplete) error
	OnLinkKeyRequest(LinkKeyRequest) error
	OnLinkKeyNotification(LinkKeyNotification) error
	OnAuthenticationComplete(AuthenticationComplete) error
	OnEncryptionChange(EncryptionChange) error
}

type IOCapabilityRequest struct {
	BDADDR [6]byte
}

// IOCapabilityResponse reports the peer's capabilities. PublicKey and
// Commitment are set when the controller relays the peer's public key stage.
type IOCapabilityResponse struct {
	BDADDR                     [6]byte
	IOCapability               hci.IoCapability
	OOBDataPresent             hci.OOBDataPresent
	AuthenticationRequirements hci.AuthRequirements

	PublicKey  []byte
	Commitment [16]byte
}

// UserConfirmationRequest carries the six digit value to compare and the peer nonce it was derived from.
type UserConfirmationRequest struct {
	BDADDR       [6]byte
	NumericValue uint32
	Nonce        [16]byte
}

// UserPasskeyRequest asks for the passkey shown on the peer. Commitment is
// the peer's commitment to that passkey, zero when neither side displays one.
type UserPasskeyRequest struct {
	BDADDR     [6]byte
	Nonce      [16]byte
	Commitment [16]byte
}

type UserPasskeyNotification struct {
	BDADDR  [6]byte
	Passkey uint32
	Nonce   [16]byte
}

type KeypressNotification struct {
	BDADDR           [6]byte
	NotificationType hci.KeypressType
}

type RemoteOOBDataRequest struct {
	BDADDR [6]byte
	Nonce  [16]byte
}

type SimplePairingComplete struct {
	Status uint8
	BDADDR [6]byte
}

type LinkKeyRequest struct {
	BDADDR [6]byte
}

type LinkKeyNotification struct {
	BDADDR  [6]byte
	LinkKey [16]byte
	KeyType hci.LinkKeyType
}

type AuthenticationComplete struct {
	Status           uint8
	ConnectionHandle uint16
}

type EncryptionChange struct {
	Status            uint8
	ConnectionHandle  uint16
	EncryptionEnabled uint8
}

func (e IOCapabilityRequest) Code() Code     { return IOCapabilityRequestCode }
func (e IOCapabilityResponse) Code() Code    { return IOCapabilityResponseCode }
func (e UserConfirmationRequest) Code() Code { return UserConfirmationRequestCode }
func (e UserPasskeyRequest) Code() Code      { return UserPasskeyRequestCode }
func (e UserPasskeyNotification) Code() Code { return UserPasskeyNotificationCode }
func (e KeypressNotification) Code() Code    { return KeypressNotificationCode }
func (e RemoteOOBDataRequest) Code() Code    { return RemoteOOBDataRequestCode }
func (e SimplePairingComplete) Code() Code   { return SimplePairingCompleteCode }
func (e LinkKeyRequest) Code() Code          { return LinkKeyRequestCode }
func (e LinkKeyNotification) Code() Code     { return LinkKeyNotificationCode }
func (e AuthenticationComplete) Code() Code  { return AuthenticationCompleteCode }
func (e EncryptionChange) Code() Code        { return EncryptionChangeCode }

func (e IOCapabilityRequest) Dispatch(h Handler) error     { return h.OnIOCapabilityRequest(e) }
func (e IOCapabilityResponse) Dispatch(h Handler) error    { return h.OnIOCapabilityResponse(e) }
func (e UserConfirmationRequest) Dispatch(h Handler) error { return h.OnUserConfirmationRequest(e) }
func (e UserPasskeyRequest) Dispatch(h Handler) error      { return h.OnUserPasskeyRequest(e) }
func (e UserPasskeyNotification) Dispatch(h Handler) error { return h.OnUserPasskeyNotification(e) }
func (e KeypressNotification) Dispatch(h Handler) error    { return h.OnKeypressNotification(e) }
func (e RemoteOOBDataRequest) Dispatch(h Handler) error    { return h.OnRemoteOOBDataRequest(e) }
func (e SimplePairingComplete) Dispatch(h Handler) error   { return h.OnSimplePairingComplete(e) }
func (e LinkKeyRequest) Dispatch(h Handler) error          { return h.OnLinkKeyRequest(e) }
func (e LinkKeyNotification) Dispatch(h Handler) error     { return h.OnLinkKeyNotification(e) }
func (e AuthenticationComplete) Dispatch(h Handler) error  { return h.OnAuthenticationComplete(e) }
func (e EncryptionChange) Dispatch(h Handler) error        { return h.OnEncryptionChange(e) }

func (e IOCapabilityRequest) Peer() ([6]byte, bool)     { return e.BDADDR, true }
func (e IOCapabilityResponse) Peer() ([6]byte, bool)    { return e.BDADDR, true }
func (e UserConfirmationRequest) Peer() ([6]byte, bool) { return e.BDADDR, true }
func (e UserPasskeyRequest) Peer() ([6]byte, bool)      { return e.BDADDR, true }
func (e UserPasskeyNotification) Peer() ([6]byte, bool) { return e.BDADDR, true }
func (e KeypressNotification) Peer() ([6]byte, bool)    { return e.BDADDR, true }
func (e RemoteOOBDataRequest) Peer() ([6]byte, bool)    { return e.BDADDR, true }
func (e SimplePairingComplete) Peer() ([6]byte, bool)   { return e.BDADDR, true }
func (e LinkKeyRequest) Peer() ([6]byte, bool)          { return e.BDADDR, true }
func (e LinkKeyNotification) Peer() ([6]byte, bool)     { return e.BDADDR, true }
func (e AuthenticationComplete) Peer() ([6]byte, bool)  { return [6]byte{}, false }
func (e EncryptionChange) Peer() ([6]byte, bool)        { return [6]byte{}, false }
