package challenge

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// Fingerprint slots rewritten by the searches.
const (
	nonceIndex     = 3
	halfNonceIndex = 9
)

const (
	proofPrefix        = "gAAAAAB"
	requirementsPrefix = "gAAAAAC"
)

var (
	screenSizes  = []int{3008, 4010, 6000}
	screenScales = []int{1, 2, 4}
	reactKeys    = []string{"_reactListeningcfilawjnerp", "_reactListening9ne2dfo1i47", "_reactListening410nzwhan2a"}
	windowEvents = []string{"alert", "ontransitionend", "onprogress"}
)

// NewConfig builds a browser fingerprint for when no proof config was
// captured with the session. A nil rnd uses the package-level source.
func NewConfig(userAgent string, now time.Time, rnd *rand.Rand) []any {
	pick := rand.IntN
	if rnd != nil {
		pick = rnd.IntN
	}
	return []any{
		screenSizes[pick(len(screenSizes))] * screenScales[pick(len(screenScales))],
		now.UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT"),
		nil,
		0,
		userAgent,
		"https://tcr9i.chat.openai.com/v2/35536E1E-65B4-4D96-9D97-6ADB7EFF8147/api.js",
		"dpl=1440a687921de39ff5ee56b92807faaadce73f13",
		"en",
		"en-US",
		nil,
		"plugins−[object PluginArray]",
		reactKeys[pick(len(reactKeys))],
		windowEvents[pick(len(windowEvents))],
	}
}

// DecodeProofToken turns a captured openai-sentinel-proof-token header back
// into its fingerprint array.
func DecodeProofToken(header string) ([]any, error) {
	encoded := header
	if _, after, found := strings.Cut(header, proofPrefix); found {
		encoded = after
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode proof token: %w", err)
	}
	var config []any
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("decode proof token: %w", err)
	}
	return config, nil
}

// withNonce returns a copy of config with the nonce slots set. Configs too
// short to hold a slot are padded with nulls.
func withNonce(config []any, nonce int, setHalf bool) []any {
	size := max(len(config), nonceIndex+1)
	if setHalf {
		size = max(size, halfNonceIndex+1)
	}
	out := make([]any, size)
	copy(out, config)
	out[nonceIndex] = nonce
	if setHalf {
		out[halfNonceIndex] = nonce >> 1
	}
	return out
}

func encodeConfig(config []any) (string, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
