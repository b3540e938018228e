package cliui

// Settings is a static host.Settings built once at startup from CLI flags;
// headless operation has no settings panel to edit these at runtime.
type Settings struct {
	priority            []string
	exclude             map[string]bool
	priorityOnly        bool
	proxyURL            string
	enableBadgesEmotes bool
}

// NewSettings builds a Settings from flag-parsed values.
func NewSettings(priority, excludeList []string, priorityOnly bool, proxyURL string, enableBadgesEmotes bool) *Settings {
	exclude := make(map[string]bool, len(excludeList))
	for _, name := range excludeList {
		exclude[name] = true
	}
	return &Settings{
		priority:           priority,
		exclude:            exclude,
		priorityOnly:       priorityOnly,
		proxyURL:           proxyURL,
		enableBadgesEmotes: enableBadgesEmotes,
	}
}

func (s *Settings) Priority() []string { return s.priority }

func (s *Settings) Exclude() map[string]bool { return s.exclude }

func (s *Settings) PriorityOnly() bool { return s.priorityOnly }

func (s *Settings) Proxy() (string, bool) { return s.proxyURL, s.proxyURL != "" }

func (s *Settings) EnableBadgesEmotes() bool { return s.enableBadgesEmotes }
