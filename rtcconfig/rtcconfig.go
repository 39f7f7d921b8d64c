// Package rtcconfig holds the enumerated, app-supplied configuration for a
// session: ICE servers, frame encryption mode, and SFU quality profile.
package rtcconfig

// FrameEncryptionKeyMode selects how FrameKeyProvider scopes its key ring.
type FrameEncryptionKeyMode string

const (
	FrameKeyModeShared        FrameEncryptionKeyMode = "shared"
	FrameKeyModePerParticipant FrameEncryptionKeyMode = "perParticipant"
)

// SFUVideoQualityProfile bounds the encoder ceilings a group call starts
// with before adaptive bitrate control (stats-driven, external to this SDK)
// takes over.
type SFUVideoQualityProfile struct {
	StartingBitrateBps int
	MinBitrateBps      int
	MaxBitrateBps      int
	StartingFramerate  int
	HighFpsThresholdBps int
	HighFps            int
	LowFps             int
	HeadroomFactor     float64
}

// RTCSessionConfig is the app-supplied configuration for one CallSession /
// GroupCallFacade instance.
type RTCSessionConfig struct {
	ICEServers             []string
	Username               string
	Password               string
	RatchetSalt            []byte
	FrameEncryptionKeyMode FrameEncryptionKeyMode
	EnableEncryption       bool
	SFUVideoQualityProfile SFUVideoQualityProfile
}

// FrameCryptorConfig holds the fixed constants from §4.3/§6 governing the
// frame-cryptor key ring. These are not user-configurable beyond
// RatchetSalt, which RTCSessionConfig threads through.
type FrameCryptorConfig struct {
	RatchetSalt                     []byte
	RatchetWindowSize               int
	UncryptedMagicBytes             string
	FailureTolerance                int
	KeyRingSize                     int
	DiscardFrameWhenCryptorNotReady bool
}

// DefaultFrameCryptorConfig returns the constants enumerated in §4.3/§6.
func DefaultFrameCryptorConfig() FrameCryptorConfig {
	return FrameCryptorConfig{
		RatchetSalt:                     []byte("PQSRTCFrameEncryptionSalt"),
		RatchetWindowSize:               0,
		UncryptedMagicBytes:             "PQSRTCMagicBytes",
		FailureTolerance:                -1,
		KeyRingSize:                     16,
		DiscardFrameWhenCryptorNotReady: true,
	}
}
