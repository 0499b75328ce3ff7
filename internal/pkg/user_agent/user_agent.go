package user_agent

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Device types reported by the detector.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceTV      = "tv"
	DeviceConsole = "console"
	DeviceBot     = "bot"
	Unknown       = "unknown"
)

type UserAgent struct {
	UserAgent      string
	OS             string
	OSVersion      string
	Browser        string
	BrowserVersion string
	DeviceType     string
	Mobile         bool
	Tablet         bool
	Desktop        bool
	Bot            bool
	BotName        string
}

//go:embed database/detector.yml
var detectorDatabase []byte

type ruleEntry struct {
	Regex   string `yaml:"regex"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Type    string `yaml:"type"`
}

type detectorFile struct {
	Bots     []ruleEntry `yaml:"bots"`
	Browsers []ruleEntry `yaml:"browsers"`
	OSs      []ruleEntry `yaml:"oss"`
	Devices  []ruleEntry `yaml:"devices"`
}

type compiledRule struct {
	ruleEntry
	regex *pcre.Regexp
}

// Detector matches user agent strings against ordered regex rules.
type Detector struct {
	bots     []compiledRule
	browsers []compiledRule
	oss      []compiledRule
	devices  []compiledRule
}

var (
	defaultDetector *Detector
	defaultErr      error
	once            sync.Once
)

// NewDetector parses and compiles a YAML rule database.
func NewDetector(database []byte) (*Detector, error) {
	var file detectorFile
	if err := yaml.Unmarshal(database, &file); err != nil {
		return nil, fmt.Errorf("failed to parse detector database: %w", err)
	}

	d := &Detector{}
	var err error
	if d.bots, err = compileRules("bots", file.Bots); err != nil {
		return nil, err
	}
	if d.browsers, err = compileRules("browsers", file.Browsers); err != nil {
		return nil, err
	}
	if d.oss, err = compileRules("oss", file.OSs); err != nil {
		return nil, err
	}
	if d.devices, err = compileRules("devices", file.Devices); err != nil {
		return nil, err
	}
	return d, nil
}

func compileRules(section string, entries []ruleEntry) ([]compiledRule, error) {
	rules := make([]compiledRule, 0, len(entries))
	for i, entry := range entries {
		regex, err := pcre.Compile(entry.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s rule %d (%q): %w", section, i, entry.Regex, err)
		}
		rules = append(rules, compiledRule{ruleEntry: entry, regex: regex})
	}
	return rules, nil
}

// Default returns the detector built from the embedded database.
func Default() (*Detector, error) {
	once.Do(func() {
		defaultDetector, defaultErr = NewDetector(detectorDatabase)
	})
	return defaultDetector, defaultErr
}

// ParseUserAgent parses with the embedded database. If the database cannot be
// loaded every field is reported as unknown.
func ParseUserAgent(userAgent string) UserAgent {
	d, err := Default()
	if err != nil {
		return UserAgent{UserAgent: userAgent, OS: Unknown, Browser: Unknown, DeviceType: Unknown}
	}
	return d.Parse(userAgent)
}

// Parse classifies a user agent. Bots are detected first and short-circuit the rest.
func (d *Detector) Parse(userAgent string) UserAgent {
	result := UserAgent{UserAgent: userAgent}

	if strings.TrimSpace(userAgent) == "" {
		result.OS, result.Browser, result.DeviceType = Unknown, Unknown, Unknown
		return result
	}

	if bot, _ := firstMatch(d.bots, userAgent); bot != nil {
		result.Bot = true
		result.BotName = bot.Name
		result.Browser = bot.Name
		result.OS = Unknown
		result.DeviceType = DeviceBot
		return result
	}

	result.Browser, result.BrowserVersion = nameAndVersion(d.browsers, userAgent)
	result.OS, result.OSVersion = nameAndVersion(d.oss, userAgent)
	result.OSVersion = strings.ReplaceAll(result.OSVersion, "_", ".")

	result.DeviceType = DeviceDesktop
	if device, _ := firstMatch(d.devices, userAgent); device != nil {
		switch device.Type {
		case "smartphone", "feature phone", "phablet":
			result.DeviceType = DeviceMobile
		case "tablet":
			result.DeviceType = DeviceTablet
		case "tv":
			result.DeviceType = DeviceTV
		case "console":
			result.DeviceType = DeviceConsole
		}
	}

	result.Mobile = result.DeviceType == DeviceMobile
	result.Tablet = result.DeviceType == DeviceTablet
	result.Desktop = result.DeviceType == DeviceDesktop
	return result
}

func firstMatch(rules []compiledRule, userAgent string) (*compiledRule, []string) {
	for i := range rules {
		if matches := rules[i].regex.FindStringSubmatch(userAgent); len(matches) > 0 {
			return &rules[i], matches
		}
	}
	return nil, nil
}

func nameAndVersion(rules []compiledRule, userAgent string) (string, string) {
	rule, matches := firstMatch(rules, userAgent)
	if rule == nil {
		return Unknown, ""
	}
	version := rule.Version
	if version != "" {
		// Replace $1, $2, etc. with the capture groups
		for i := len(matches) - 1; i >= 1; i-- {
			version = strings.ReplaceAll(version, fmt.Sprintf("$%d", i), matches[i])
		}
	}
	return rule.Name, version
}

// NormalizeBrowser folds mobile variants into their family and lowercases the result.
func NormalizeBrowser(browser string) string {
	name := strings.ToLower(strings.TrimSpace(browser))
	switch name {
	case "":
		return Unknown
	case "internet explorer":
		return "ie"
	case "mobile safari":
		return "safari"
	case "chrome mobile", "chrome mobile webview":
		return "chrome"
	case "firefox mobile":
		return "firefox"
	case "opera mini", "opera mobile":
		return "opera"
	case "microsoft edge", "edge mobile":
		return "edge"
	default:
		return name
	}
}

// NormalizeDeviceType maps free-form client device labels onto the detector's vocabulary.
func NormalizeDeviceType(deviceType string) string {
	switch strings.ToLower(strings.TrimSpace(deviceType)) {
	case "":
		return Unknown
	case "mobile", "smartphone", "phone", "phablet":
		return DeviceMobile
	case "tablet":
		return DeviceTablet
	case "desktop", "notebook", "laptop", "pc":
		return DeviceDesktop
	case "tv", "smarttv":
		return DeviceTV
	case "console":
		return DeviceConsole
	case "bot":
		return DeviceBot
	default:
		return strings.ToLower(strings.TrimSpace(deviceType))
	}
}
