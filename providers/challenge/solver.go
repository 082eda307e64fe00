package challenge

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// DefaultMaxAttempts bounds the proof-of-work search.
	DefaultMaxAttempts = 100000
	// DefaultRequirementsMaxAttempts bounds the requirements token search.
	DefaultRequirementsMaxAttempts = 500000
	// requirementsDifficulty is fixed by the client script.
	requirementsDifficulty = "0fffff"
)

// Requirement is the proofofwork block of a chat-requirements response.
type Requirement struct {
	Required   bool   `json:"required"`
	Seed       string `json:"seed"`
	Difficulty string `json:"difficulty"`
}

// Solver searches for challenge answers. The zero value uses the defaults.
type Solver struct {
	MaxAttempts             int
	RequirementsMaxAttempts int
}

// NewSolver returns a solver with the default attempt bounds.
func NewSolver() *Solver {
	return &Solver{
		MaxAttempts:             DefaultMaxAttempts,
		RequirementsMaxAttempts: DefaultRequirementsMaxAttempts,
	}
}

// ProofOfWork finds a nonce such that the hex SHA3-512 of seed+base64(config)
// starts with a prefix not greater than the difficulty. It returns ("", false)
// when the proof is not required, no config is given or the search is
// exhausted.
func (s *Solver) ProofOfWork(req Requirement, config []any) (string, bool) {
	if !req.Required || len(config) == 0 {
		return "", false
	}
	answer, ok := search(req.Seed, req.Difficulty, config, false, attempts(s.MaxAttempts, DefaultMaxAttempts))
	if !ok {
		return "", false
	}
	return proofPrefix + answer, true
}

// RequirementsToken computes the "p" value of the chat-requirements call. It
// returns ("", false) without a config. The search seed is derived from the
// config, so identical configs yield identical tokens.
func (s *Solver) RequirementsToken(config []any) (string, bool) {
	if len(config) == 0 {
		return "", false
	}
	seed, err := configSeed(config)
	if err != nil {
		return "", false
	}
	answer, ok := search(seed, requirementsDifficulty, config, true, attempts(s.RequirementsMaxAttempts, DefaultRequirementsMaxAttempts))
	if !ok {
		return "", false
	}
	return requirementsPrefix + answer, true
}

// Verify reports whether token answers seed at difficulty.
func Verify(token, seed, difficulty string) bool {
	for _, prefix := range []string{proofPrefix, requirementsPrefix} {
		if base, found := strings.CutPrefix(token, prefix); found {
			return meets(seed, base, difficulty)
		}
	}
	return false
}

func search(seed, difficulty string, config []any, setHalf bool, maxAttempts int) (string, bool) {
	for nonce := range maxAttempts {
		base, err := encodeConfig(withNonce(config, nonce, setHalf))
		if err != nil {
			return "", false
		}
		if meets(seed, base, difficulty) {
			return base, true
		}
	}
	return "", false
}

func meets(seed, base, difficulty string) bool {
	sum := sha3.Sum512([]byte(seed + base))
	digest := hex.EncodeToString(sum[:])
	return digest[:min(len(difficulty), len(digest))] <= strings.ToLower(difficulty)
}

func configSeed(config []any) (string, error) {
	base, err := encodeConfig(config)
	if err != nil {
		return "", err
	}
	sum := sha3.Sum512([]byte(base))
	return fmt.Sprintf("0.%x", sum[:8]), nil
}

func attempts(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}
