package reputation

import (
	"fmt"
	"regexp"
	"strings"

	"watchtower/internal/utils"

	"gopkg.in/yaml.v3"
)

// Tables holds the trusted-domain set and the heuristic pattern families
// as versioned, swappable data. DefaultTables is compiled in; tests and
// deployments may load fixtures with ParseTables.
type Tables struct {
	Version  string
	trusted  []string
	families []Family
}

type Family struct {
	Name     string
	patterns []*regexp.Regexp
}

type tablesFile struct {
	Version  string   `yaml:"version"`
	Trusted  []string `yaml:"trusted"`
	Families []struct {
		Name     string   `yaml:"name"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"families"`
}

// Trusted reports whether domain is, or is a subdomain of, a trusted
// domain.
func (t *Tables) Trusted(domain string) bool {
	for _, candidate := range t.trusted {
		if utils.DomainWithin(domain, candidate) {
			return true
		}
	}
	return false
}

// MatchHeuristic runs the pattern families over the normalized URL and
// returns the first matching family name.
func (t *Tables) MatchHeuristic(normalizedURL string) (string, bool) {
	lower := strings.ToLower(normalizedURL)
	for _, family := range t.families {
		for _, pattern := range family.patterns {
			if pattern.MatchString(lower) {
				return family.Name, true
			}
		}
	}
	return "", false
}

func ParseTables(data []byte) (*Tables, error) {
	var file tablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	tables := &Tables{Version: file.Version}
	for _, domain := range file.Trusted {
		tables.trusted = append(tables.trusted, strings.ToLower(domain))
	}
	for _, entry := range file.Families {
		family := Family{Name: entry.Name}
		for _, raw := range entry.Patterns {
			pattern, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("family %s pattern %q: %w", entry.Name, raw, err)
			}
			family.patterns = append(family.patterns, pattern)
		}
		tables.families = append(tables.families, family)
	}
	return tables, nil
}

func DefaultTables() *Tables {
	return &Tables{
		Version: "2024-06",
		trusted: []string{
			"discord.com",
			"discordapp.com",
			"discord.gg",
			"github.com",
			"gitlab.com",
			"youtube.com",
			"youtu.be",
			"twitch.tv",
			"twitter.com",
			"x.com",
			"reddit.com",
			"wikipedia.org",
			"google.com",
			"steamcommunity.com",
			"steampowered.com",
			"spotify.com",
			"imgur.com",
			"tenor.com",
			"giphy.com",
			"medium.com",
			"stackoverflow.com",
		},
		families: []Family{
			{
				Name: "platform-impersonation",
				patterns: compile(
					`d[i1l]sc[o0]rd[a-z0-9-]*\.(?:com|gg|net|org|info)`,
					`discord[a-z0-9]*-(?:nitro|gift|app|airdrop)`,
					`discorcl`,
					`st[e3]amcommun[i1l]ty`,
					`stearncommunity`,
					`steamc[o0]mmunity\.(?:ru|net|org|info)`,
				),
			},
			{
				Name: "scam-keywords",
				patterns: compile(
					`free-?nitro`,
					`nitro-?(?:gift|drop|claim|free)`,
					`free-?robux`,
					`robux-?generator`,
					`csgo-?(?:skins?|drop)`,
					`crypto-?(?:giveaway|airdrop|double)`,
					`airdrop-?(?:claim|now|event)`,
					`elon-?(?:musk)?-?giveaway`,
				),
			},
			{
				Name: "url-shorteners",
				patterns: compile(
					`//(?:bit\.ly|tinyurl\.com|cutt\.ly|is\.gd|rb\.gy|shorturl\.at|t\.co|grabify\.link|iplogger\.org)/`,
				),
			},
			{
				Name: "ip-literal",
				patterns: compile(
					`//(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?(?:/|$)`,
				),
			},
			{
				Name: "high-risk-tld",
				patterns: compile(
					`//[a-z0-9.-]+\.(?:tk|ml|ga|cf|gq|top|club|click|link|rest|bar)(?:/|$)`,
				),
			},
			{
				Name: "phishing-phrasing",
				patterns: compile(
					`(?:claim|verify|secure|unlock)-?(?:your)?-?(?:account|gift|reward|prize)`,
					`account-?(?:suspended|locked|banned)`,
					`login-?(?:secure|verify|portal)`,
					`(?:you|u)-?(?:won|win)-?(?:a)?-?(?:prize|gift)`,
				),
			},
		},
	}
}

func compile(raws ...string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(raws))
	for _, raw := range raws {
		patterns = append(patterns, regexp.MustCompile(raw))
	}
	return patterns
}
