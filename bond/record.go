package bond

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/ssp"
	"github.com/rigado/ssp/hci"
)

// Record is the persisted bonding state for one device.
type Record struct {
	Addr        ssp.Addr
	LinkKey     []byte // BR/EDR link key, 16 bytes
	KeyType     hci.LinkKeyType
	LongTermKey []byte // LE long term key, 16 bytes
	LocalIoCap  hci.IoCapability
	RemoteIoCap hci.IoCapability
	Updated     time.Time
}

// section keys
const (
	keyAddrType    = "AddrType"
	keyLinkKey     = "LinkKey"
	keyLinkKeyType = "LinkKeyType"
	keyLTK         = "LeLongTermKey"
	keyLocalIoCap  = "LocalIoCap"
	keyRemoteIoCap = "RemoteIoCap"
	keyBonded      = "Bonded"
	keyTimestamp   = "Timestamp"
)

const keySize = 16

func (r Record) validate() error {
	if len(r.LinkKey) == 0 && len(r.LongTermKey) == 0 {
		return errors.New("record holds no key")
	}
	if len(r.LinkKey) != 0 && len(r.LinkKey) != keySize {
		return errors.Errorf("invalid link key length %d", len(r.LinkKey))
	}
	if len(r.LongTermKey) != 0 && len(r.LongTermKey) != keySize {
		return errors.Errorf("invalid long term key length %d", len(r.LongTermKey))
	}
	return nil
}

// Authenticated reports whether the bond's key was created with MITM protection.
func (r Record) Authenticated() bool {
	return len(r.LinkKey) == keySize && r.KeyType.Authenticated()
}

func encode(r Record) map[string]string {
	kv := map[string]string{
		keyAddrType:    strconv.Itoa(int(r.Addr.Type)),
		keyLocalIoCap:  strconv.Itoa(int(r.LocalIoCap)),
		keyRemoteIoCap: strconv.Itoa(int(r.RemoteIoCap)),
		keyBonded:      "true",
		keyTimestamp:   strconv.FormatInt(r.Updated.Unix(), 10),
	}
	if len(r.LinkKey) > 0 {
		kv[keyLinkKey] = hex.EncodeToString(r.LinkKey)
		kv[keyLinkKeyType] = strconv.Itoa(int(r.KeyType))
	}
	if len(r.LongTermKey) > 0 {
		kv[keyLTK] = hex.EncodeToString(r.LongTermKey)
	}
	return kv
}

func decode(a ssp.Addr, kv map[string]string) (Record, error) {
	if kv[keyBonded] != "true" {
		return Record{}, errors.New("section not marked bonded")
	}

	r := Record{Addr: a}
	var err error

	at, err := decodeUint8(kv, keyAddrType)
	if err != nil {
		return Record{}, err
	}
	r.Addr.Type = ssp.AddrType(at)

	if v, ok := kv[keyLinkKey]; ok {
		if r.LinkKey, err = hex.DecodeString(v); err != nil {
			return Record{}, errors.Wrap(err, "failed to decode link key")
		}
		kt, err := decodeUint8(kv, keyLinkKeyType)
		if err != nil {
			return Record{}, err
		}
		r.KeyType = hci.LinkKeyType(kt)
	}
	if v, ok := kv[keyLTK]; ok {
		if r.LongTermKey, err = hex.DecodeString(v); err != nil {
			return Record{}, errors.Wrap(err, "failed to decode long term key")
		}
	}

	lio, err := decodeUint8(kv, keyLocalIoCap)
	if err != nil {
		return Record{}, err
	}
	rio, err := decodeUint8(kv, keyRemoteIoCap)
	if err != nil {
		return Record{}, err
	}
	r.LocalIoCap, r.RemoteIoCap = hci.IoCapability(lio), hci.IoCapability(rio)

	ts, err := strconv.ParseInt(kv[keyTimestamp], 10, 64)
	if err != nil {
		return Record{}, errors.Wrapf(err, "invalid %s", keyTimestamp)
	}
	r.Updated = time.Unix(ts, 0)

	return r, r.validate()
}

func decodeUint8(kv map[string]string, k string) (uint8, error) {
	v, ok := kv[k]
	if !ok {
		return 0, errors.Errorf("missing %s", k)
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", k)
	}
	return uint8(n), nil
}
