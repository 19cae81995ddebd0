// Package detect classifies a client environment into the voice capture
// strategy it can run.
package detect

import (
	"strings"

	"nori/internal/domain"
)

// DefaultDenyList names browsers that expose capture APIs without honoring them.
var DefaultDenyList = []string{"brave"}

// Detector picks a capture strategy. The deny-list matches brand names or
// user-agent substrings case-insensitively.
type Detector struct {
	denyList []string
}

func NewDetector(denyList []string) *Detector {
	normalized := make([]string, 0, len(denyList))
	for _, entry := range denyList {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			normalized = append(normalized, entry)
		}
	}
	return &Detector{denyList: normalized}
}

// Detect returns exactly one strategy for env:
//  1. no capture permission primitive, or a deny-listed browser: Unsupported
//  2. live recognition present, unless mobile outside the Safari family: Live
//  3. otherwise: RecordUpload
func (d *Detector) Detect(env domain.Environment) domain.CaptureStrategy {
	if !env.HasMediaDevices || d.denied(env) {
		return domain.StrategyUnsupported
	}
	if env.HasLiveRecognition && !(IsMobile(env.UserAgent) && !IsSafari(env.UserAgent)) {
		return domain.StrategyLive
	}
	return domain.StrategyRecordUpload
}

// Detect classifies env with the default deny-list.
func Detect(env domain.Environment) domain.CaptureStrategy {
	return NewDetector(DefaultDenyList).Detect(env)
}

func (d *Detector) denied(env domain.Environment) bool {
	ua := strings.ToLower(env.UserAgent)
	for _, entry := range d.denyList {
		for _, brand := range env.Brands {
			if strings.EqualFold(strings.TrimSpace(brand), entry) {
				return true
			}
		}
		if strings.Contains(ua, entry) {
			return true
		}
	}
	return false
}

// IsMobile reports whether the user agent belongs to an iOS device.
func IsMobile(userAgent string) bool {
	for _, device := range []string{"iPad", "iPhone", "iPod"} {
		if strings.Contains(userAgent, device) {
			return true
		}
	}
	return false
}

// IsSafari reports whether the user agent is Safari proper. Chrome and Android
// agents also advertise "Safari" and are excluded.
func IsSafari(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	safari := strings.Index(ua, "safari")
	if safari < 0 {
		return false
	}
	prefix := ua[:safari]
	return !strings.Contains(prefix, "chrome") && !strings.Contains(prefix, "android")
}
