// Package device detects the hardware profile that gates local model use.
// The profile is derived purely from capabilities: total RAM, accelerator
// presence, CPU cores, and free disk under the data directory.
package device

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"ada/internal/logging"
)

// Tier buckets the machine by how much local inference it can sustain.
type Tier string

const (
	TierMinimal  Tier = "minimal"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPower    Tier = "power"
	TierServer   Tier = "server"
)

// EnvTierOverride forces a tier regardless of detected hardware.
const EnvTierOverride = "ADA_DEVICE_TIER"

// Profile describes what the machine can run locally.
type Profile struct {
	Tier              Tier
	RAMGB             float64
	Cores             int
	FreeDiskGB        float64
	Accelerator       bool
	MaxModelSize      string   // largest size suffix this tier should load
	ConcurrentModels  int      // how many models may be resident at once
	RecommendedModels []string // ordered, best first
	ClassifierModel   string   // empty on minimal: no local classification
	EmbeddingsLocal   bool
}

// Detect builds the profile for this machine. dataDir anchors the free-disk
// measurement.
func Detect(dataDir string) Profile {
	ramGB := totalRAMGB()
	tier := tierForRAM(ramGB)

	if override := strings.ToLower(strings.TrimSpace(os.Getenv(EnvTierOverride))); override != "" {
		if t, ok := parseTier(override); ok {
			logging.Boot("Device tier forced to %s via %s", t, EnvTierOverride)
			tier = t
		} else {
			logging.Boot("Ignoring invalid %s=%q", EnvTierOverride, override)
		}
	}

	p := profileFor(tier)
	p.RAMGB = ramGB
	p.Cores = runtime.NumCPU()
	p.FreeDiskGB = freeDiskGB(dataDir)
	p.Accelerator = hasAccelerator()

	logging.Boot("Device profile: tier=%s ram=%.1fGB cores=%d disk=%.1fGB accelerator=%v",
		p.Tier, p.RAMGB, p.Cores, p.FreeDiskGB, p.Accelerator)
	return p
}

// tierForRAM maps total RAM to a tier. A machine sitting exactly on a
// boundary gets the higher tier.
func tierForRAM(ramGB float64) Tier {
	switch {
	case ramGB >= 32:
		return TierServer
	case ramGB >= 16:
		return TierPower
	case ramGB >= 8:
		return TierStandard
	case ramGB >= 4:
		return TierBasic
	default:
		return TierMinimal
	}
}

func parseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case TierMinimal, TierBasic, TierStandard, TierPower, TierServer:
		return Tier(s), true
	}
	return "", false
}

func profileFor(tier Tier) Profile {
	switch tier {
	case TierServer:
		return Profile{
			Tier:              TierServer,
			MaxModelSize:      "70b",
			ConcurrentModels:  4,
			RecommendedModels: []string{"llama3.3:70b", "qwen2.5:32b", "qwen2.5:14b", "qwen2.5:7b"},
			ClassifierModel:   "qwen2.5:3b",
			EmbeddingsLocal:   true,
		}
	case TierPower:
		return Profile{
			Tier:              TierPower,
			MaxModelSize:      "13b",
			ConcurrentModels:  3,
			RecommendedModels: []string{"qwen2.5:14b", "llama3.1:8b", "qwen2.5:7b", "qwen2.5:3b"},
			ClassifierModel:   "qwen2.5:3b",
			EmbeddingsLocal:   true,
		}
	case TierStandard:
		return Profile{
			Tier:              TierStandard,
			MaxModelSize:      "7b",
			ConcurrentModels:  2,
			RecommendedModels: []string{"qwen2.5:7b", "llama3.1:8b", "qwen2.5:3b"},
			ClassifierModel:   "qwen2.5:3b",
			EmbeddingsLocal:   true,
		}
	case TierBasic:
		return Profile{
			Tier:              TierBasic,
			MaxModelSize:      "3b",
			ConcurrentModels:  1,
			RecommendedModels: []string{"qwen2.5:3b", "llama3.2:3b"},
			ClassifierModel:   "qwen2.5:3b",
			EmbeddingsLocal:   true,
		}
	default:
		// Minimal machines route everything to the API tier.
		return Profile{Tier: TierMinimal}
	}
}

// =============================================================================
// HARDWARE PROBES
// =============================================================================

func totalRAMGB() float64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		// Unknown platform: assume a mid-range machine rather than
		// disabling local inference outright.
		return 8
	}
	defer f.Close()

	kb, err := parseMemTotalKB(f)
	if err != nil {
		return 8
	}
	return float64(kb) / (1024 * 1024)
}

func parseMemTotalKB(r io.Reader) (int64, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		return strconv.ParseInt(fields[1], 10, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errNoMemTotal
}

var errNoMemTotal = errors.New("MemTotal not found in meminfo")

func hasAccelerator() bool {
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return true
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	// Apple Silicon shares RAM with the GPU.
	return runtime.GOOS == "darwin" && runtime.GOARCH == "arm64"
}
