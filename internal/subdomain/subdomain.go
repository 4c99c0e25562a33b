// Package subdomain generates human-readable host labels for projects.
package subdomain

import (
	"fmt"
	"math/rand/v2"
	"regexp"
)

var adjectives = []string{
	"amber", "bold", "brisk", "calm", "clever", "crimson", "daring", "eager",
	"fancy", "gentle", "golden", "happy", "icy", "jolly", "keen", "lively",
	"mellow", "noble", "olive", "proud", "quiet", "rapid", "silver", "tidy",
	"urban", "vivid", "warm", "young", "zesty", "bright",
}

var nouns = []string{
	"anchor", "beacon", "canyon", "dune", "ember", "falcon", "garden", "harbor",
	"island", "jungle", "kettle", "lagoon", "meadow", "nebula", "orchid", "prairie",
	"quartz", "river", "summit", "trail", "valley", "willow", "yonder", "zephyr",
	"breeze", "cliff", "delta", "forest", "glade", "horizon",
}

var labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Generate returns a random three-word slug such as "bold-silver-lagoon".
func Generate() string {
	return fmt.Sprintf("%s-%s-%s",
		adjectives[rand.IntN(len(adjectives))],
		adjectives[rand.IntN(len(adjectives))],
		nouns[rand.IntN(len(nouns))],
	)
}

// Valid reports whether s is a legal DNS label for generated subdomains.
func Valid(s string) bool {
	return len(s) > 0 && len(s) <= 63 && labelPattern.MatchString(s)
}
